package transfer

import (
	"container/list"
	"fmt"
	"sync"

	"camsync/internal/metrics"
)

// Queue は転送待ちジョブのFIFO
// 録画制御（追加のみ）と転送ワーカー（先頭の参照と削除）で共有される。
// 構造の参照・変更はすべて mu の下で行う。
type Queue struct {
	mu       sync.Mutex
	items    *list.List
	capacity int // 0以下なら無制限
}

// NewQueue は容量付きの新しいQueueを作成する
func NewQueue(capacity int) *Queue {
	return &Queue{
		items:    list.New(),
		capacity: capacity,
	}
}

// Capacity はキューの容量を返す
func (q *Queue) Capacity() int {
	return q.capacity
}

// Append はジョブを末尾に追加する
func (q *Queue) Append(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.append(job)
}

// RemoveAt は1始まりの位置にあるジョブを取り除く
func (q *Queue) RemoveAt(position int) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeAt(position)
}

// Len は現在のジョブ数を返す
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Head は先頭（最も古い）ジョブを返す
func (q *Queue) Head() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head()
}

// Snapshot は先頭から順に並べたジョブのコピーを返す
func (q *Queue) Snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot()
}

// Locked はロックを保持したままfnを実行する
// 長さの確認→先頭の参照→処理→削除のような複数手順の操作に使う。
// fnに渡されたLockedQueueをfnの外に持ち出してはならない。
func (q *Queue) Locked(fn func(l *LockedQueue)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(&LockedQueue{q: q})
}

// LockedQueue はロック取得済みのキューに対する操作
type LockedQueue struct {
	q *Queue
}

func (l *LockedQueue) Len() int { return l.q.items.Len() }
func (l *LockedQueue) Head() (Job, bool) { return l.q.head() }
func (l *LockedQueue) Append(job Job) error { return l.q.append(job) }
func (l *LockedQueue) RemoveAt(position int) (Job, error) { return l.q.removeAt(position) }
func (l *LockedQueue) Snapshot() []Job { return l.q.snapshot() }

// 以下はロック済み前提

func (q *Queue) append(job Job) error {
	if q.capacity > 0 && q.items.Len() >= q.capacity {
		return fmt.Errorf("%w: %d件 (%s)", ErrQueueFull, q.items.Len(), job.Name)
	}
	q.items.PushBack(job)
	metrics.SetQueueLength(q.items.Len())
	return nil
}

func (q *Queue) removeAt(position int) (Job, error) {
	if position < 1 || position > q.items.Len() {
		return Job{}, fmt.Errorf("%w: %d (長さ %d)", ErrIndexOutOfRange, position, q.items.Len())
	}

	e := q.items.Front()
	for i := 1; i < position; i++ {
		e = e.Next()
	}
	job := q.items.Remove(e).(Job)
	metrics.SetQueueLength(q.items.Len())
	return job, nil
}

func (q *Queue) head() (Job, bool) {
	e := q.items.Front()
	if e == nil {
		return Job{}, false
	}
	return e.Value.(Job), true
}

func (q *Queue) snapshot() []Job {
	jobs := make([]Job, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		jobs = append(jobs, e.Value.(Job))
	}
	return jobs
}

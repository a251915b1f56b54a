package camera

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// VideoClassDir はvideo4linuxノードの一覧があるsysfsディレクトリ
const VideoClassDir = "/sys/class/video4linux"

// ErrNoVideoNode は条件に合うvideo4linuxノードがない
var ErrNoVideoNode = errors.New("video4linuxノードが見つかりません")

var videoNodePattern = regexp.MustCompile(`^video(\d+)$`)

// ScanVideoNodes は `ls -l /sys/class/video4linux` の出力から
// リンク先にpatternを含むノードを探し、デバイスパスを番号順に返す
func ScanVideoNodes(listing []byte, pattern string) []string {
	var nodes []string

	sc := bufio.NewScanner(bytes.NewReader(listing))
	for sc.Scan() {
		line := sc.Text()
		if pattern != "" && !strings.Contains(line, pattern) {
			continue
		}

		// lrwxrwxrwx 1 root root 0 Jan  1 00:00 video0 -> ../../devices/...
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		if !videoNodePattern.MatchString(fields[8]) {
			continue
		}
		nodes = append(nodes, "/dev/"+fields[8])
	}

	// デバイス番号でソート
	sort.Slice(nodes, func(i, j int) bool {
		return extractDeviceNumber(nodes[i]) < extractDeviceNumber(nodes[j])
	})

	return nodes
}

// FindVideoNode はpatternに一致する最も番号の小さいノードを返す
func FindVideoNode(listing []byte, pattern string) (string, error) {
	nodes := ScanVideoNodes(listing, pattern)
	if len(nodes) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoVideoNode, pattern)
	}
	return nodes[0], nil
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	// /dev/videoXX から XX を抽出
	i := strings.LastIndex(device, "video")
	if i < 0 {
		return 0
	}

	num, err := strconv.Atoi(device[i+len("video"):])
	if err != nil {
		return 0
	}

	return num
}

package camera

import (
	"errors"
	"testing"
)

const sampleListing = `total 0
lrwxrwxrwx 1 root root 0 Jan  1 00:00 video0 -> ../../devices/platform/10218000.mipicsi/video4linux/video0
lrwxrwxrwx 1 root root 0 Jan  1 00:00 video11 -> ../../devices/platform/10217000.mipicsi/video4linux/video11
lrwxrwxrwx 1 root root 0 Jan  1 00:00 video2 -> ../../devices/platform/10217000.mipicsi/video4linux/video2
lrwxrwxrwx 1 root root 0 Jan  1 00:00 v4l-subdev0 -> ../../devices/platform/10217000.mipicsi/v4l-subdev0
`

func TestScanVideoNodes(t *testing.T) {
	nodes := ScanVideoNodes([]byte(sampleListing), "10217000.mipicsi")

	expected := []string{"/dev/video2", "/dev/video11"}
	if len(nodes) != len(expected) {
		t.Fatalf("Expected %d nodes, got %d (%v)", len(expected), len(nodes), nodes)
	}
	for i, node := range nodes {
		if node != expected[i] {
			t.Errorf("Expected node %s, got %s", expected[i], node)
		}
	}
}

func TestFindVideoNode(t *testing.T) {
	testCases := []struct {
		name      string
		listing   string
		pattern   string
		expected  string
		expectErr bool
	}{
		{
			name:     "最も小さい番号を選ぶ",
			listing:  sampleListing,
			pattern:  "10217000.mipicsi",
			expected: "/dev/video2",
		},
		{
			name:     "別のCSI",
			listing:  sampleListing,
			pattern:  "10218000.mipicsi",
			expected: "/dev/video0",
		},
		{
			name:      "一致なし",
			listing:   sampleListing,
			pattern:   "10219000.mipicsi",
			expectErr: true,
		},
		{
			name:      "空の出力",
			listing:   "",
			pattern:   "10217000.mipicsi",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			node, err := FindVideoNode([]byte(tc.listing), tc.pattern)
			if tc.expectErr {
				if !errors.Is(err, ErrNoVideoNode) {
					t.Errorf("Expected ErrNoVideoNode, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if node != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, node)
			}
		})
	}
}

func TestExtractDeviceNumber(t *testing.T) {
	testCases := map[string]int{
		"/dev/video0":  0,
		"/dev/video12": 12,
		"/dev/null":    0,
	}
	for device, expected := range testCases {
		if got := extractDeviceNumber(device); got != expected {
			t.Errorf("extractDeviceNumber(%s): expected %d, got %d", device, expected, got)
		}
	}
}

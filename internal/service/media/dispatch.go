// Package media decides which processing path an uploaded file takes and how its
// annotated artifact is named.
package media

import (
	"path/filepath"
	"strings"
)

// Kind is the processing path of a file.
type Kind int

const (
	Unsupported Kind = iota
	Image
	Video
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	}
	return "unsupported"
}

// OutputPrefix is prepended to every annotated artifact name.
const OutputPrefix = "detected_"

// CanonicalVideoExtension is the container every annotated video is written as.
const CanonicalVideoExtension = "mp4"

var (
	imageExtensions = []string{"jpg", "jpeg", "png", "bmp"}
	videoExtensions = []string{"mp4", "avi", "mov", "mkv"}
)

// Extension returns the lowercased extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Classify is total: anything that is not a known image or video is Unsupported.
func Classify(filename string) Kind {
	ext := Extension(filename)
	if ext == "" {
		return Unsupported
	}
	for _, e := range imageExtensions {
		if ext == e {
			return Image
		}
	}
	for _, e := range videoExtensions {
		if ext == e {
			return Video
		}
	}
	return Unsupported
}

// SupportedExtensions lists every accepted extension, images first.
func SupportedExtensions() []string {
	all := make([]string, 0, len(imageExtensions)+len(videoExtensions))
	all = append(all, imageExtensions...)
	return append(all, videoExtensions...)
}

// DeriveOutputName names the annotated artifact for original. Images keep their
// extension; videos are always written as .mp4.
func DeriveOutputName(original string, kind Kind) string {
	base := filepath.Base(original)
	if kind == Video {
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		return OutputPrefix + stem + "." + CanonicalVideoExtension
	}
	return OutputPrefix + base
}

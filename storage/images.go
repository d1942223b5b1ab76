package storage

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
)

// ImageStore 帧图片落盘：root/YYYYMMDD/<frame_id>.jpg
type ImageStore struct {
	root    string
	quality int
}

func NewImageStore(root string, quality int) (*ImageStore, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve image root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create image root: %w", err)
	}
	return &ImageStore{root: abs, quality: quality}, nil
}

// PathFor frame_id 对应的存储路径（日期目录取自 ID 前缀）
func (s *ImageStore) PathFor(frameID string) string {
	dateDir := frameID
	if len(frameID) >= 8 {
		dateDir = frameID[:8]
	}
	return filepath.Join(s.root, dateDir, frameID+".jpg")
}

// Exists reports whether the storage slot for frameID is taken. Drives the
// microsecond probing in frame ID allocation.
func (s *ImageStore) Exists(frameID string) bool {
	_, err := os.Stat(s.PathFor(frameID))
	return err == nil
}

// Save 将帧图片编码为 JPEG 写盘，返回最终路径
func (s *ImageStore) Save(frameID string, img image.Image) (string, error) {
	path := s.PathFor(frameID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create date dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return path, nil
}

// Load 从存储路径读回图片
func (s *ImageStore) Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Resolve validates that path stays inside the image root before it is
// served over HTTP.
func (s *ImageStore) Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path outside image storage root")
	}
	return abs, nil
}

// Root 图片根目录（stats 用）
func (s *ImageStore) Root() string {
	return s.root
}

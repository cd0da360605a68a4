package archiver

import "path/filepath"

// MediaPaths resolves the fixed per-video file layout. All artifacts are
// addressed purely by VideoID plus suffix; nothing stores opaque paths.
type MediaPaths struct {
	MediaDir     string
	ProcessedDir string
	TmpDir       string
}

func (c *Config) Paths() MediaPaths {
	return MediaPaths{
		MediaDir:     c.MediaDir,
		ProcessedDir: c.ProcessedDir,
		TmpDir:       c.TmpDir,
	}
}

func (p MediaPaths) Video(id VideoID) string {
	return filepath.Join(p.MediaDir, id.String()+".mp4")
}

// DeletedVideo is where a soft-deleted original is parked.
func (p MediaPaths) DeletedVideo(id VideoID) string {
	return filepath.Join(p.MediaDir, id.String()+"_deleted.mp4")
}

func (p MediaPaths) ProcessedVideo(id VideoID) string {
	return filepath.Join(p.ProcessedDir, id.String()+".mp4")
}

func (p MediaPaths) Thumbnail(id VideoID) string {
	return filepath.Join(p.MediaDir, id.String()+"_thumb.jpg")
}

func (p MediaPaths) BlurredThumbnail(id VideoID) string {
	return filepath.Join(p.MediaDir, id.String()+"_thumb_blurred.jpg")
}

func (p MediaPaths) Preview(id VideoID) string {
	return filepath.Join(p.MediaDir, id.String()+"_preview.jpg")
}

func (p MediaPaths) BlurredPreview(id VideoID) string {
	return filepath.Join(p.MediaDir, id.String()+"_preview_blurred.jpg")
}

func (p MediaPaths) ProgressLog(id VideoID) string {
	return filepath.Join(p.TmpDir, id.String()+"_progress.log")
}

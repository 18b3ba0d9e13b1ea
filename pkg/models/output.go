package models

// UploadRole describes what an uploaded object is within the HLS package
type UploadRole string

// UploadRole constants
const (
	RoleMaster           UploadRole = "master"
	RoleQualityPlaylist  UploadRole = "quality"
	RoleSegment          UploadRole = "segment"
	RoleTranscript       UploadRole = "transcript"
	RoleSubtitlePlaylist UploadRole = "subtitle"
	RoleOther            UploadRole = "other"
)

// UploadRecord is one transferred object
type UploadRecord struct {
	LocalPath string     `json:"local_path"`
	Key       string     `json:"key"`
	Role      UploadRole `json:"role"`
	// Qualifier is the quality name for quality playlists and the format for transcripts
	Qualifier string `json:"qualifier,omitempty"`
}

// S3Keys is the key map sent with the content record
type S3Keys struct {
	Master     string            `json:"master"`
	Qualities  map[string]string `json:"qualities"`
	Transcript map[string]string `json:"transcript"`
}

// UploadSettings are the last used upload parameters, persisted between runs
type UploadSettings struct {
	CourseID          string `json:"last_course_id"`
	VideoName         string `json:"last_video_name"`
	Language          string `json:"language"`
	DeleteAfterUpload bool   `json:"delete_local_after_upload"`
}

// UploadTarget is a presigned destination for one object
type UploadTarget struct {
	Key         string `json:"key"`
	SignedURL   string `json:"signedUrl"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

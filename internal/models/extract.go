package models

// ExtractResult ответ внешнего сервиса, извлекающего прямую ссылку на файл.
type ExtractResult struct {
	Success      bool    `json:"success"`
	Error        string  `json:"error,omitempty"`
	DownloadLink string  `json:"download_link"`
	Filename     string  `json:"filename"`
	SizeMB       float64 `json:"size_mb"`
	Thumbnail    string  `json:"thumbnail,omitempty"`
}

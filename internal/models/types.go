package models

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
}

type FileItem struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
}

type ListResult struct {
	Server         string     `json:"server"`
	Files          []FileItem `json:"files"`
	TotalFiles     int        `json:"total_files"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	TotalSizeHuman string     `json:"total_size_human"`
	OperationTime  string     `json:"operation_time"`
}

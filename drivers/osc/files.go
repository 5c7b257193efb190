package osc

import "encoding/json"

type ListFilesParams struct {
	FileType      string // all, image or video
	EntryCount    int
	MaxThumbSize  int
	StartPosition int
}

type FileEntry struct {
	Name         string `json:"name"`
	FileURL      string `json:"fileUrl"`
	Size         int64  `json:"size"`
	DateTimeZone string `json:"dateTimeZone"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

type FileList struct {
	Entries      []FileEntry `json:"entries"`
	TotalEntries int         `json:"totalEntries"`
}

func (p ListFilesParams) parameters() map[string]interface{} {
	if p.FileType == "" {
		p.FileType = "all"
	}
	if p.EntryCount <= 0 {
		p.EntryCount = 100
	}
	params := map[string]interface{}{
		"fileType":     p.FileType,
		"entryCount":   p.EntryCount,
		"maxThumbSize": p.MaxThumbSize,
	}
	if p.StartPosition > 0 {
		params["startPosition"] = p.StartPosition
	}
	return params
}

func decodeFileList(results json.RawMessage) (*FileList, error) {
	var list FileList
	if err := json.Unmarshal(results, &list); err != nil {
		return nil, &ProtocolError{Message: "malformed listFiles results: " + err.Error()}
	}
	return &list, nil
}

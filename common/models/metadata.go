package models

import "time"

// Metadata is the wire metadata a storage node serves for one file.
type Metadata struct {
	UUID              string   `json:"uuid"`
	Filename          string   `json:"filename"`
	DescriptiveName   string   `json:"descriptiveName"`
	Filesize          int64    `json:"filesize"`
	MimeType          string   `json:"mimetype"`
	Extension         string   `json:"extension"`
	CreationTimestamp int64    `json:"creationTimestamp"`
	IsPrivate         bool     `json:"isPrivate"`
	NodeType          NodeType `json:"nodeType,omitempty"`
}

// CreationTime converts the unix timestamp.
func (m *Metadata) CreationTime() time.Time {
	return time.Unix(m.CreationTimestamp, 0)
}

package models

import "time"

// StoredFile is one file managed by the framework.
type StoredFile struct {
	ID            string              `json:"uuid"`
	MD5           string              `json:"md5"`
	Name          string              `json:"descriptiveName"`
	MimeType      string              `json:"mimetype"`
	Extension     string              `json:"extension"`
	Size          int64               `json:"filesize"`
	CreatedAt     time.Time           `json:"-"`
	IsPrivate     bool                `json:"isPrivate"`
	UploadPending bool                `json:"-"`
	UploadFailed  bool                `json:"-"`
	DeletePending bool                `json:"-"`
	NodeIDs       []string            `json:"-"`
	Context       *ContextDescription `json:"-"`
	Path          string              `json:"-"`
}

// FullName returns name.extension, or just the name when no extension is
// known.
func (f *StoredFile) FullName() string {
	if f.Extension == "" {
		return f.Name
	}
	return f.Name + "." + f.Extension
}

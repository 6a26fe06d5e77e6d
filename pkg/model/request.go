package model

import (
	"errors"
	"fmt"
	"strings"
)

// TransferRequest is the payload published on the work topic.
type TransferRequest struct {
	Username    string `json:"username"`
	TorrentID   string `json:"torrent_id"`
	ContentPath string `json:"content_path"`
}

// Validate reports whether the request has every field set and a torrent ID
// that can be used verbatim as a file name.
func (r TransferRequest) Validate() error {
	var errs []error
	if r.Username == "" {
		errs = append(errs, errors.New("missing username"))
	}
	if r.ContentPath == "" {
		errs = append(errs, errors.New("missing content_path"))
	}
	if err := ValidateTransferID(r.TorrentID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateTransferID checks that id is safe to use as a file name inside the
// key folder.
func ValidateTransferID(id string) error {
	switch {
	case id == "":
		return errors.New("missing torrent_id")
	case id == "." || id == "..":
		return fmt.Errorf("invalid torrent_id: %q", id)
	case strings.HasPrefix(id, "-"):
		return fmt.Errorf("invalid torrent_id: %q must not start with '-'", id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("invalid torrent_id: %q contains a path separator", id)
	}
	return nil
}

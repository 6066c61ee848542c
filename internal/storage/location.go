package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// Scheme identifies where a location lives.
type Scheme string

const (
	SchemeFile     Scheme = "file"
	SchemeS3       Scheme = "s3"
	SchemePostgres Scheme = "postgres"
)

// Location is a parsed input or output address.
type Location struct {
	Raw    string `json:"raw"`
	Scheme Scheme `json:"scheme"`
	// Path is the local file path or the object key.
	Path   string `json:"path"`
	Bucket string `json:"bucket,omitempty"`
	DSN    string `json:"-"`
	Table  string `json:"table,omitempty"`
}

// ParseLocation recognizes s3://bucket/key, postgres:// and postgresql://
// connection strings, and treats anything else as a local path. A postgres
// location may name its target table with a table query parameter.
func ParseLocation(raw string) (Location, error) {
	if strings.TrimSpace(raw) == "" {
		return Location{}, errors.NewValidationError(errors.CodeMissingField, "location is empty")
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		rest := raw[len("s3://"):]
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Location{}, errors.NewValidationError(errors.CodeInvalidInput,
				fmt.Sprintf("s3 location %q must be s3://bucket/key", raw))
		}
		return Location{Raw: raw, Scheme: SchemeS3, Bucket: bucket, Path: key}, nil

	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Location{}, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput,
				"invalid postgres connection string")
		}
		q := u.Query()
		tableName := q.Get("table")
		if tableName == "" {
			tableName = constants.DefaultPostgresTable
		}
		q.Del("table")
		u.RawQuery = q.Encode()
		return Location{Raw: raw, Scheme: SchemePostgres, DSN: u.String(), Table: tableName}, nil

	default:
		return Location{Raw: raw, Scheme: SchemeFile, Path: raw}, nil
	}
}

// Name returns the last path element, used to pick a file format.
func (l Location) Name() string {
	if l.Scheme == SchemePostgres {
		return l.Table
	}
	return path.Base(l.Path)
}

// IsRemote reports whether the location is not on the local filesystem.
func (l Location) IsRemote() bool {
	return l.Scheme != SchemeFile
}

// String hides credentials of postgres locations.
func (l Location) String() string {
	if l.Scheme == SchemePostgres {
		if u, err := url.Parse(l.DSN); err == nil {
			return u.Redacted()
		}
	}
	return l.Raw
}

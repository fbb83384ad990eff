package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/PanGan21/verifiable-storage/internal/wire"
)

// parseUploadForm reads the required multipart fields of an upload
// request, matching the fields cmd/client's uploadOneFile writes: filename, batch_id,
// file_hash, signature, timestamp, public_key, and a "file" part carrying
// the content. The caller is responsible for closing the returned file.
func parseUploadForm(r *http.Request) (wire.UploadForm, multipart.File, error) {
	var form wire.UploadForm

	required := map[string]*string{
		"filename":   &form.Filename,
		"batch_id":   &form.BatchID,
		"file_hash":  &form.FileHash,
		"signature":  &form.Signature,
		"public_key": &form.PublicKey,
	}
	for field, dest := range required {
		values := r.MultipartForm.Value[field]
		if len(values) == 0 || values[0] == "" {
			return wire.UploadForm{}, nil, fmt.Errorf("missing form field %q", field)
		}
		*dest = values[0]
	}

	tsValues := r.MultipartForm.Value["timestamp"]
	if len(tsValues) == 0 {
		return wire.UploadForm{}, nil, errors.New("missing form field \"timestamp\"")
	}
	ts, err := strconv.ParseUint(tsValues[0], 10, 64)
	if err != nil {
		return wire.UploadForm{}, nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	form.Timestamp = ts

	file, _, err := r.FormFile("file")
	if err != nil {
		return wire.UploadForm{}, nil, fmt.Errorf("reading file part: %w", err)
	}

	return form, file, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxBytes)
	}
	return data, nil
}

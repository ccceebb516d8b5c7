package urlstore

import (
	"encoding/json"
	"net/http"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/value"
)

// authedValue wraps a *value.URLValue to add a real Permissions(),
// grounded on original_source/encore/storage/dynamic_url_store.py's
// RequestsURLValue, which likewise lazily GETs a separate "auth" URL
// rather than leaving permissions unimplemented like url_value.py's
// plain URLValue.
type authedValue struct {
	*value.URLValue
	client         *http.Client
	permissionsURL string
}

func (v *authedValue) Permissions() (interface{}, error) {
	resp, err := v.client.Get(v.permissionsURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, errs.ErrKeyMissing
	case http.StatusForbidden:
		return nil, errs.ErrPermissionDenied
	}

	var perms interface{}
	if err := json.NewDecoder(resp.Body).Decode(&perms); err != nil {
		return nil, err
	}
	return perms, nil
}

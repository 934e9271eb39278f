package storage

import (
	"errors"
	"fmt"

	"mercator-hq/tollgate/pkg/quota"
)

// errBackendClosed is returned by every operation after Close.
var errBackendClosed = errors.New("backend is closed")

// checkKey validates the (namespace, key) pair addressed by an operation.
func checkKey(ns quota.Namespace, key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", quota.ErrInvalidRecord)
	}
	if _, err := quota.ParseNamespace(string(ns)); err != nil {
		return fmt.Errorf("%w: %v", quota.ErrInvalidRecord, err)
	}
	return nil
}

// checkUpdated ensures an UpdateFunc did not move the record to another key.
func checkUpdated(record *quota.Record, ns quota.Namespace, key string) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.Namespace != ns || record.Key != key {
		return fmt.Errorf("%w: update for %s:%s returned record for %s:%s",
			quota.ErrInvalidRecord, ns, key, record.Namespace, record.Key)
	}
	return nil
}

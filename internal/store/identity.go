package store

import (
	"context"
	"errors"
	"fmt"
)

// IdentitySource resolves the cached user id from a Store. It satisfies
// connection.IdentitySource.
type IdentitySource struct {
	Store Store
}

// UserID returns the id from the cached userInfo entry. A missing entry
// yields 0 with no error.
func (s IdentitySource) UserID(ctx context.Context) (int64, error) {
	var info UserInfo
	err := GetJSON(ctx, s.Store, KeyUserInfo, &info)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load user info: %w", err)
	}
	return info.ID, nil
}

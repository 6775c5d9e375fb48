// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authtest

import (
	"errors"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
)

// errDuplicateHash mirrors the storage failure Postgres reports on a token hash collision.
var errDuplicateHash = apperr.StorageFailure(errors.New("duplicate token hash"))

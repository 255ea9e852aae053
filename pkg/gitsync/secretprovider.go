package gitsync

import pkgsync "github.com/enmesarru/glone/pkg/sync"

// SecretProvider is re-exported from pkg/sync for convenience.
type SecretProvider = pkgsync.SecretProvider

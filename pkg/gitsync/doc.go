// Package gitsync synchronizes one git branch into a local directory.
//
// A synchronization clones the repository when the directory is empty or
// missing. Otherwise it fetches the branch from origin and brings the local
// branch up to date: nothing to do, a fast-forward, a merge commit, or a
// merge that leaves conflict markers in the worktree for a human to resolve.
//
// Supported authentication:
//   - token: a username and a token, both looked up by name through a
//     SecretProvider (environment variables by default); both names start
//     with an underscore
//   - ssh: a private key file, with the remote host checked against
//     known_hosts
//   - public: anonymous access
//
// Example usage:
//
//	import "github.com/enmesarru/glone/pkg/gitsync"
//
//	syncer, err := gitsync.NewFromConfig(map[string]any{
//	    "name":     "policies",
//	    "url":      "https://github.com/myorg/policies.git",
//	    "branch":   "main",
//	    "sync_dir": "/srv/policies",
//	    "auth": map[string]any{
//	        "type":     "token",
//	        "username": "_GIT_USER",
//	        "password": "_GIT_TOKEN",
//	    },
//	}, vaultProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer syncer.Close(ctx)
//
//	if err := syncer.Execute(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(syncer.Outcome())
//
// Thread Safety: Synchronizer instances are NOT thread-safe. Each instance should
// be used by a single goroutine. Create separate instances for concurrent operations.
package gitsync

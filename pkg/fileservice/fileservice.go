// Package fileservice implements the public file operations (spec §4.8):
// read/write/delete/rename/exists/get_metadata/mkdir/rmdir/list/glob/grep,
// each enforcing its required permission via pkg/rebac before touching
// pkg/metadata and pkg/cas.
package fileservice

import (
	"bytes"
	"context"
	"io"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nexi-lab/nexus/pkg/cas"
	"github.com/nexi-lab/nexus/pkg/digest"
	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/nexi-lab/nexus/pkg/namespace"
	"github.com/nexi-lab/nexus/pkg/nspath"
	"github.com/nexi-lab/nexus/pkg/rebac"
)

// sniffWindow is how many leading bytes of a file grep inspects to decide
// whether it is binary (spec §4.8 edge case: binary files are skipped).
const sniffWindow = 512

// Service implements the File Service operation table. Change events for
// the watch journal are appended by pkg/metadata itself, in the same
// transaction as the mutation (spec §4 control flow: "...Metadata Store
// appends a new version record...→ Watch Journal emits an event") — this
// package has no direct dependency on pkg/watch.
type Service struct {
	meta   *metadata.Store
	cas    *cas.Store
	engine *rebac.Engine
	router *namespace.Router // optional; nil disables the read-only-mount check
}

func New(meta *metadata.Store, c *cas.Store, engine *rebac.Engine, router *namespace.Router) *Service {
	return &Service{meta: meta, cas: c, engine: engine, router: router}
}

func (s *Service) checkAllowed(ctx context.Context, tenantID string, subj rebac.Subject, permission, objectType, objectID string) (bool, error) {
	res, err := s.engine.Check(ctx, rebac.CheckRequest{
		TenantID:   tenantID,
		Subject:    subj,
		Permission: permission,
		Object:     rebac.Object{Type: objectType, ID: objectID},
	})
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (s *Service) authorize(ctx context.Context, tenantID string, subj rebac.Subject, permission, objectType, objectID string) error {
	allowed, err := s.checkAllowed(ctx, tenantID, subj, permission, objectType, objectID)
	if err != nil {
		return err
	}
	if !allowed {
		return errtypes.PermissionDenied(objectID)
	}
	return nil
}

// assertWritable rejects writes targeting a mount registered read-only
// (spec §3 "Mount record" read_only flag).
func (s *Service) assertWritable(ctx context.Context, tenantID, path string) error {
	if s.router == nil {
		return nil
	}
	res, err := s.router.Resolve(ctx, tenantID, path)
	if err != nil {
		return err
	}
	if res.ReadOnly {
		return errtypes.PermissionDenied("mount is read-only: " + path)
	}
	return nil
}

// ReadResult is the output of Read.
type ReadResult struct {
	Content  []byte
	Metadata *metadata.File
}

// Read returns a file's current content (spec §4.8 "read").
func (s *Service) Read(ctx context.Context, tenantID string, subj rebac.Subject, p string, returnMetadata bool) (ReadResult, error) {
	normalized, err := nspath.Validate(p)
	if err != nil {
		return ReadResult{}, err
	}
	if err := s.authorize(ctx, tenantID, subj, "read", "file", normalized); err != nil {
		return ReadResult{}, err
	}
	f, err := s.meta.GetFile(ctx, tenantID, normalized)
	if err != nil {
		return ReadResult{}, err
	}
	if f.IsDirectory {
		return ReadResult{}, errtypes.InvalidArgument("cannot read a directory: " + normalized)
	}
	content, err := s.readVersion(ctx, tenantID, normalized, f.CurrentVersion)
	if err != nil {
		return ReadResult{}, err
	}
	result := ReadResult{Content: content}
	if returnMetadata {
		result.Metadata = &f
	}
	return result, nil
}

func (s *Service) readVersion(ctx context.Context, tenantID, p string, version int64) ([]byte, error) {
	v, err := s.meta.GetVersion(ctx, tenantID, p, version)
	if err != nil {
		return nil, err
	}
	rc, err := s.cas.Get(ctx, digest.Digest(v.ContentDigest), 0, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, errtypes.Internal("read content: " + err.Error())
	}
	return content, nil
}

// WriteOptions carries write's optional preconditions (spec §4.8 "write").
type WriteOptions struct {
	IfMatch     string
	IfNoneMatch bool
	// Force retries once past an if_match conflict, re-reading the current
	// etag and applying it, so a caller that just wants its bytes to win
	// doesn't have to read-then-write itself.
	Force       bool
	ContentType string
	Description string
}

// Write creates or appends a new version of a file (spec §4.8 "write").
func (s *Service) Write(ctx context.Context, tenantID string, subj rebac.Subject, p string, content []byte, opts WriteOptions) (metadata.WriteResult, error) {
	normalized, err := nspath.Validate(p)
	if err != nil {
		return metadata.WriteResult{}, err
	}

	exists, err := s.meta.Exists(ctx, tenantID, normalized)
	if err != nil {
		return metadata.WriteResult{}, err
	}
	if exists {
		if err := s.authorize(ctx, tenantID, subj, "write", "file", normalized); err != nil {
			return metadata.WriteResult{}, err
		}
	} else {
		parent := normalized
		if pp, ok := nspath.Parent(normalized); ok {
			parent = pp
		}
		if err := s.authorize(ctx, tenantID, subj, "create", "file", parent); err != nil {
			return metadata.WriteResult{}, err
		}
	}
	if err := s.assertWritable(ctx, tenantID, normalized); err != nil {
		return metadata.WriteResult{}, err
	}

	putRes, err := s.cas.Put(ctx, bytes.NewReader(content))
	if err != nil {
		return metadata.WriteResult{}, err
	}

	wopts := metadata.WriteOpts{
		IfMatch:     opts.IfMatch,
		IfNoneMatch: opts.IfNoneMatch,
		CreatedBy:   subj.ID,
		ContentType: opts.ContentType,
		Description: opts.Description,
	}
	res, err := s.meta.WriteFile(ctx, tenantID, normalized, string(putRes.Digest), putRes.Size, wopts)
	if err != nil {
		if _, ok := err.(errtypes.IsConflict); ok && opts.Force {
			if current, gerr := s.meta.GetFile(ctx, tenantID, normalized); gerr == nil {
				wopts.IfMatch = current.Etag
				wopts.IfNoneMatch = false
				res, err = s.meta.WriteFile(ctx, tenantID, normalized, string(putRes.Digest), putRes.Size, wopts)
			}
		}
	}
	return res, err
}

// Delete removes a file (spec §4.8 "delete").
func (s *Service) Delete(ctx context.Context, tenantID string, subj rebac.Subject, p string) error {
	normalized, err := nspath.Validate(p)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, tenantID, subj, "delete", "file", normalized); err != nil {
		return err
	}
	if err := s.assertWritable(ctx, tenantID, normalized); err != nil {
		return err
	}
	return s.meta.DeleteFile(ctx, tenantID, normalized, subj.ID)
}

// Rename atomically moves a path, transferring its version chain and
// rewriting ReBAC tuples whose object_id named the old path (spec §4.8
// "rename"; edge case: "rename ... rewrites ReBAC tuples whose object_id
// equals the old path").
func (s *Service) Rename(ctx context.Context, tenantID string, subj rebac.Subject, oldPath, newPath string) error {
	oldNorm, err := nspath.Validate(oldPath)
	if err != nil {
		return err
	}
	newNorm, err := nspath.Validate(newPath)
	if err != nil {
		return err
	}

	if err := s.authorize(ctx, tenantID, subj, "delete", "file", oldNorm); err != nil {
		return err
	}
	createTarget := newNorm
	if pp, ok := nspath.Parent(newNorm); ok {
		createTarget = pp
	}
	if err := s.authorize(ctx, tenantID, subj, "create", "file", createTarget); err != nil {
		return err
	}
	if err := s.assertWritable(ctx, tenantID, oldNorm); err != nil {
		return err
	}
	if err := s.assertWritable(ctx, tenantID, newNorm); err != nil {
		return err
	}

	return s.meta.RenameFileAndRewriteTuples(ctx, tenantID, oldNorm, newNorm, subj.ID)
}

// Exists reports whether path names a live file or directory (spec §4.8
// "exists").
func (s *Service) Exists(ctx context.Context, tenantID string, subj rebac.Subject, p string) (bool, error) {
	normalized, err := nspath.Validate(p)
	if err != nil {
		return false, err
	}
	if err := s.authorize(ctx, tenantID, subj, "read", "file", normalized); err != nil {
		return false, err
	}
	return s.meta.Exists(ctx, tenantID, normalized)
}

// GetMetadata returns a path's stat record (spec §4.8 "get_metadata").
func (s *Service) GetMetadata(ctx context.Context, tenantID string, subj rebac.Subject, p string) (metadata.File, error) {
	normalized, err := nspath.Validate(p)
	if err != nil {
		return metadata.File{}, err
	}
	if err := s.authorize(ctx, tenantID, subj, "read", "file", normalized); err != nil {
		return metadata.File{}, err
	}
	return s.meta.GetFile(ctx, tenantID, normalized)
}

// Mkdir creates a directory, and its missing ancestors if parents is set
// (spec §4.8 "mkdir").
func (s *Service) Mkdir(ctx context.Context, tenantID string, subj rebac.Subject, p string, parents, existOK bool) ([]metadata.MkdirResult, error) {
	normalized, err := nspath.Validate(p)
	if err != nil {
		return nil, err
	}
	checkObj := normalized
	if pp, ok := nspath.Parent(normalized); ok {
		checkObj = pp
	}
	if err := s.authorize(ctx, tenantID, subj, "create", "file", checkObj); err != nil {
		return nil, err
	}
	if err := s.assertWritable(ctx, tenantID, normalized); err != nil {
		return nil, err
	}
	return s.meta.Mkdir(ctx, tenantID, normalized, parents, existOK)
}

// Rmdir removes a directory (spec §4.8 "rmdir").
func (s *Service) Rmdir(ctx context.Context, tenantID string, subj rebac.Subject, p string, recursive bool) error {
	normalized, err := nspath.Validate(p)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, tenantID, subj, "delete", "file", normalized); err != nil {
		return err
	}
	if err := s.assertWritable(ctx, tenantID, normalized); err != nil {
		return err
	}
	return s.meta.Rmdir(ctx, tenantID, normalized, recursive)
}

// List returns a directory's permission-filtered entries, ordered by path
// (spec §4.8 "list": "ordering is required by tests").
func (s *Service) List(ctx context.Context, tenantID string, subj rebac.Subject, p string, recursive bool, prefix string) ([]metadata.File, error) {
	normalized, err := nspath.Validate(p)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, subj, "read", "file", normalized); err != nil {
		return nil, err
	}

	var entries []metadata.File
	if recursive {
		entries, err = s.meta.ListDescendants(ctx, tenantID, normalized)
	} else {
		entries, err = s.meta.ListChildren(ctx, tenantID, normalized)
	}
	if err != nil {
		return nil, err
	}

	var out []metadata.File
	for _, f := range entries {
		if f.Path == normalized {
			continue
		}
		if prefix != "" && !strings.HasPrefix(nspath.Base(f.Path), prefix) {
			continue
		}
		allowed, err := s.checkAllowed(ctx, tenantID, subj, "read", "file", f.Path)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Glob returns every path under root matching a shell-style pattern,
// permission-filtered (spec §4.8 "glob"). Patterns follow stdlib path.Match
// semantics: wildcards never cross a "/" component boundary.
func (s *Service) Glob(ctx context.Context, tenantID string, subj rebac.Subject, pattern, root string) ([]metadata.File, error) {
	if root == "" {
		root = "/"
	}
	normalizedRoot, err := nspath.Validate(root)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, subj, "read", "file", normalizedRoot); err != nil {
		return nil, err
	}

	candidates, err := s.meta.ListDescendants(ctx, tenantID, normalizedRoot)
	if err != nil {
		return nil, err
	}

	var out []metadata.File
	for _, f := range candidates {
		matched, err := path.Match(pattern, f.Path)
		if err != nil {
			return nil, errtypes.Validation("bad glob pattern: " + err.Error())
		}
		if !matched {
			continue
		}
		allowed, err := s.checkAllowed(ctx, tenantID, subj, "read", "file", f.Path)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// GrepHit is one matching line (spec §4.8 "grep").
type GrepHit struct {
	Path    string
	Line    int
	Content string
	Match   string
}

// Grep searches file content under root for a regex match, permission-
// filtered per hit (spec §4.8 "grep"). Binary files — sniffed from their
// first 512 bytes — and files that are not valid UTF-8 are skipped.
func (s *Service) Grep(ctx context.Context, tenantID string, subj rebac.Subject, pattern, root, filePattern string, ignoreCase bool, maxResults int) ([]GrepHit, error) {
	if root == "" {
		root = "/"
	}
	normalizedRoot, err := nspath.Validate(root)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, subj, "read", "file", normalizedRoot); err != nil {
		return nil, err
	}

	expr := pattern
	if ignoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errtypes.Validation("bad regex: " + err.Error())
	}

	candidates, err := s.meta.ListDescendants(ctx, tenantID, normalizedRoot)
	if err != nil {
		return nil, err
	}

	var out []GrepHit
	for _, f := range candidates {
		if f.IsDirectory {
			continue
		}
		if filePattern != "" {
			if matched, _ := path.Match(filePattern, nspath.Base(f.Path)); !matched {
				continue
			}
		}
		allowed, err := s.checkAllowed(ctx, tenantID, subj, "read", "file", f.Path)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}

		content, err := s.readVersion(ctx, tenantID, f.Path, f.CurrentVersion)
		if err != nil {
			continue
		}
		if isBinary(content) || !utf8.Valid(content) {
			continue
		}

		for i, line := range strings.Split(string(content), "\n") {
			loc := re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			out = append(out, GrepHit{Path: f.Path, Line: i + 1, Content: line, Match: line[loc[0]:loc[1]]})
			if maxResults > 0 && len(out) >= maxResults {
				return out, nil
			}
		}
	}
	return out, nil
}

func isBinary(content []byte) bool {
	n := len(content)
	if n > sniffWindow {
		n = sniffWindow
	}
	for _, b := range content[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

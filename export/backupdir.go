package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const backupNamePrefix = "backup-"
const backupNameTimeLayout = "20060102-1504"

// BackupProperties is the content of the root backup.properties sidecar
//.
type BackupProperties struct {
	Date         time.Time
	Incremental  bool
	Previous     string
	NrInSequence int
}

// AsMap renders properties as the key=value lines backup.properties is
// written in.
func (p BackupProperties) AsMap() map[string]string {
	return map[string]string{
		"date":           p.Date.UTC().Format(time.RFC3339Nano),
		"incremental":    yesNo(p.Incremental),
		"previous":       p.Previous,
		"nr-in-sequence": strconv.Itoa(p.NrInSequence),
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// BackupDirectory locates prior backup archives under a target directory
// and allocates the next archive's path and sequencing metadata
//.
type BackupDirectory struct {
	targetDir string
	zip       bool
	log       *zap.Logger
}

// NewBackupDirectory opens targetDir (created if absent) as a backup
// chain location. zip selects whether newly allocated archives are zip
// files or directory trees.
func NewBackupDirectory(targetDir string, zip bool, log *zap.Logger) (*BackupDirectory, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, fmt.Errorf("export: failed to create target directory: %w", err)
	}
	return &BackupDirectory{targetDir: targetDir, zip: zip, log: log}, nil
}

// LastBackup scans the target directory for archives produced by this
// engine and returns the one with the greatest timestamp.
func (d *BackupDirectory) LastBackup() (*BackupDescriptor, bool, error) {
	entries, err := os.ReadDir(d.targetDir)
	if err != nil {
		return nil, false, fmt.Errorf("export: failed to list target directory: %w", err)
	}
	var best *BackupDescriptor
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, backupNamePrefix) {
			continue
		}
		ts, ok := parseBackupTimestamp(name)
		if !ok {
			continue
		}
		if best == nil || ts.After(best.date) {
			best = &BackupDescriptor{path: filepath.Join(d.targetDir, name), name: name, date: ts}
		}
	}
	return best, best != nil, nil
}

// parseBackupTimestamp extracts the YYYYMMDD-HHMM portion from a backup
// archive's file name, tolerating a trailing _N collision suffix and a
// .zip extension.
func parseBackupTimestamp(name string) (time.Time, bool) {
	rest := strings.TrimPrefix(name, backupNamePrefix)
	rest = strings.TrimSuffix(rest, ".zip")
	if idx := strings.IndexByte(rest, '_'); idx >= 0 {
		rest = rest[:idx]
	}
	ts, err := time.ParseInLocation(backupNameTimeLayout, rest, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// CreateBackup allocates a unique archive path and computes this
// archive's properties, applying the sequence-number rule: reaching
// maxIncremental forces a fresh full backup; a malformed predecessor
// sequence number is logged and reset to 1 without aborting.
// maxIncremental < 0 disables the cap.
func (d *BackupDirectory) CreateBackup(ctx context.Context, wantIncremental bool, maxIncremental int) (string, BackupProperties, error) {
	now := time.Now()
	props := BackupProperties{Date: now, NrInSequence: 1}

	predecessor, ok, err := d.LastBackup()
	if err != nil {
		return "", BackupProperties{}, err
	}

	incremental := wantIncremental && ok
	if incremental {
		prevProps, perr := predecessor.Properties(ctx)
		prevNr := 0
		if perr != nil {
			d.log.Warn("failed to read predecessor properties, resetting sequence", zap.String("predecessor", predecessor.Name()), zap.Error(perr))
		} else if n, nerr := strconv.Atoi(prevProps["nr-in-sequence"]); nerr != nil {
			d.log.Warn("malformed nr-in-sequence in predecessor, resetting to 1", zap.String("predecessor", predecessor.Name()), zap.String("value", prevProps["nr-in-sequence"]))
		} else {
			prevNr = n
		}

		if maxIncremental >= 0 && prevNr >= maxIncremental {
			incremental = false
			props.NrInSequence = 1
		} else {
			props.NrInSequence = prevNr + 1
			props.Previous = predecessor.Name()
		}
	}
	props.Incremental = incremental

	path, err := d.allocatePath(now)
	if err != nil {
		return "", BackupProperties{}, err
	}
	return path, props, nil
}

// allocatePath finds the first unused name of the form
// backup-YYYYMMDD-HHMM[_N][.zip].
func (d *BackupDirectory) allocatePath(ts time.Time) (string, error) {
	base := backupNamePrefix + ts.UTC().Format(backupNameTimeLayout)
	ext := ""
	if d.zip {
		ext = ".zip"
	}
	candidate := filepath.Join(d.targetDir, base+ext)
	if !pathExists(candidate) {
		return candidate, nil
	}
	for n := 1; ; n++ {
		candidate = filepath.Join(d.targetDir, fmt.Sprintf("%s_%d%s", base, n, ext))
		if !pathExists(candidate) {
			return candidate, nil
		}
	}
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// BackupDescriptor is a readable handle to one prior archive's structure
// and properties.
type BackupDescriptor struct {
	path string
	name string
	date time.Time
}

// NewBackupDescriptor wraps an existing archive path without requiring
// it to have been discovered via LastBackup.
func NewBackupDescriptor(path string) *BackupDescriptor {
	name := filepath.Base(path)
	ts, _ := parseBackupTimestamp(name)
	return &BackupDescriptor{path: path, name: name, date: ts}
}

func (d *BackupDescriptor) Name() string { return d.name }
func (d *BackupDescriptor) Date() time.Time { return d.date }

// SymbolicPath is the absolute on-disk path of the archive.
func (d *BackupDescriptor) SymbolicPath() string { return d.path }

func (d *BackupDescriptor) isZip() bool {
	return strings.HasSuffix(d.path, ".zip")
}

// Properties reads the archive's backup.properties sidecar.
func (d *BackupDescriptor) Properties(ctx context.Context) (map[string]string, error) {
	var data []byte
	var err error
	if d.isZip() {
		data, err = readZipMember(d.path, "backup.properties")
	} else {
		data, err = os.ReadFile(filepath.Join(d.path, "backup.properties"))
	}
	if err != nil {
		return nil, fmt.Errorf("export: failed to read backup.properties: %w", err)
	}
	return decodeProperties(data), nil
}

// BackupDescriptorFor returns the parsed manifest for the given
// database-rooted collection URI within this archive, for
// CollectionExporter's deletion-detection pass.
func (d *BackupDescriptor) BackupDescriptorFor(ctx context.Context, collectionURI string) (*ParsedManifest, bool, error) {
	relPath, err := collectionManifestRelPath(collectionURI)
	if err != nil {
		return nil, false, err
	}
	var r io.ReadCloser
	if d.isZip() {
		r, err = openZipMember(d.path, relPath)
	} else {
		r, err = os.Open(filepath.Join(d.path, relPath))
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer r.Close()
	m, err := ParseManifest(r)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// collectionManifestRelPath maps a collection URI like "/db/apps" to its
// manifest's path inside the archive, db/<safe-encoded-segments>/__contents__.xml.
func collectionManifestRelPath(collectionURI string) (string, error) {
	segs := strings.Split(strings.Trim(collectionURI, "/"), "/")
	if len(segs) > 0 && segs[0] == dbRootSegment {
		segs = segs[1:]
	}
	parts := make([]string, 0, len(segs)+2)
	parts = append(parts, dbRootSegment)
	for _, s := range segs {
		if s == "" {
			continue
		}
		parts = append(parts, safeEncode(s))
	}
	parts = append(parts, reservedManifestName)
	return filepath.Join(parts...), nil
}

// Parse streams every collection manifest found in the archive to visit,
// in archive order, for whole-chain inspection (BackupDirectory.LastBackup
// callers that need more than a single collection's manifest).
func (d *BackupDescriptor) Parse(ctx context.Context, visit func(collectionURI string, m *ParsedManifest) error) error {
	if d.isZip() {
		zr, err := zip.OpenReader(d.path)
		if err != nil {
			return err
		}
		defer zr.Close()
		for _, f := range zr.File {
			if filepath.Base(f.Name) != reservedManifestName {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rc, err := f.Open()
			if err != nil {
				return err
			}
			m, perr := ParseManifest(rc)
			rc.Close()
			if perr != nil {
				return perr
			}
			if err := visit(m.Name(), m); err != nil {
				return err
			}
		}
		return nil
	}
	return filepath.Walk(d.path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Base(p) != reservedManifestName {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		f, oerr := os.Open(p)
		if oerr != nil {
			return oerr
		}
		m, perr := ParseManifest(f)
		f.Close()
		if perr != nil {
			return perr
		}
		return visit(m.Name(), m)
	})
}

func readZipMember(archivePath, member string) ([]byte, error) {
	rc, err := openZipMember(archivePath, member)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func openZipMember(archivePath, member string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	member = filepath.ToSlash(member)
	for _, f := range zr.File {
		if f.Name == member {
			rc, err := f.Open()
			if err != nil {
				zr.Close()
				return nil, err
			}
			return &zipMemberReadCloser{rc: rc, zr: zr}, nil
		}
	}
	zr.Close()
	return nil, os.ErrNotExist
}

// zipMemberReadCloser closes both the member reader and the owning
// zip.ReadCloser together, so callers see a single io.ReadCloser.
type zipMemberReadCloser struct {
	rc io.ReadCloser
	zr *zip.ReadCloser
}

func (z *zipMemberReadCloser) Read(p []byte) (int, error) { return z.rc.Read(p) }
func (z *zipMemberReadCloser) Close() error {
	err := z.rc.Close()
	if cerr := z.zr.Close(); err == nil {
		err = cerr
	}
	return err
}

func decodeProperties(data []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.IndexByte(line, '='); idx >= 0 {
			out[line[:idx]] = line[idx+1:]
		}
	}
	return out
}

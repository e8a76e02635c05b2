package collector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/user/collectbot/internal/types"
)

const exportHeader = "# COLLECTION EXPORT:"

var (
	escaper   = strings.NewReplacer("|", "<PIPE>", "\n", "<NL>")
	unescaper = strings.NewReplacer("<PIPE>", "|", "<NL>", "\n")
)

// Export renders a collection as a text backup. Each item is one
// "kind|handle|text|name|size" line after a commented header.
func (s *Service) Export(ctx context.Context, user types.UserID, id types.CollectionID) (string, []byte, error) {
	coll, err := s.access.CanModify(ctx, user, id)
	if err != nil {
		return "", nil, err
	}
	items, err := s.store.Items(ctx, id, 0, 0)
	if err != nil {
		return "", nil, fmt.Errorf("load collection: %w", err)
	}
	if len(items) == 0 {
		return "", nil, ErrEmptyCollection
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s\n", exportHeader, coll.Name)
	fmt.Fprintf(&buf, "# DATE: %s\n", time.Now().UTC().Format(time.RFC3339))
	buf.WriteString("# DO NOT EDIT THIS FILE\n\n")
	for _, it := range items {
		fmt.Fprintf(&buf, "%s|%s|%s|%s|%d\n",
			it.Kind, escaper.Replace(it.Handle), escaper.Replace(it.Text), escaper.Replace(it.FileName), it.FileSize)
	}

	name := fmt.Sprintf("collection_%d_backup.txt", id)
	return name, buf.Bytes(), nil
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Collection *types.Collection
	Imported   int
	Skipped    int
}

// Import recreates a collection from an Export backup and makes it the
// active target. A clashing name gets a " (n)" suffix. fileName is used
// when the header carries no name.
func (s *Service) Import(ctx context.Context, user types.UserID, fileName string, data []byte) (*ImportResult, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !sc.Scan() || !strings.HasPrefix(sc.Text(), exportHeader) {
		return nil, ErrInvalidBackup
	}
	name := strings.TrimSpace(strings.TrimPrefix(sc.Text(), exportHeader))
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSuffix(fileName, ".txt"), "_backup")
	}

	coll, err := s.createUnique(ctx, user, name)
	if err != nil {
		return nil, err
	}
	res := &ImportResult{Collection: coll}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		item, ok := parseBackupLine(line)
		if !ok {
			res.Skipped++
			continue
		}
		item.CollectionID = coll.ID
		if _, err := s.store.AddItem(ctx, item); err != nil {
			slog.Warn("import item failed", "collection_id", int64(coll.ID), "error", err)
			res.Skipped++
			continue
		}
		res.Imported++
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read backup: %w", err)
	}

	s.activate(user, coll.ID)
	return res, nil
}

// createUnique creates a collection named name, or "name (n)" with the
// lowest free n. The base is shortened so the suffix survives truncation.
func (s *Service) createUnique(ctx context.Context, user types.UserID, name string) (*types.Collection, error) {
	name = strings.TrimSpace(name)
	existing, err := s.store.Collections(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	taken := make(map[string]bool, len(existing))
	for _, c := range existing {
		taken[strings.ToLower(c.Name)] = true
	}

	candidate := truncateName(name, maxNameLen)
	for n := 1; taken[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		candidate = truncateName(name, maxNameLen-len(suffix)) + suffix
	}
	return s.CreateCollection(ctx, user, candidate)
}

func parseBackupLine(line string) (*types.Item, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 5 {
		return nil, false
	}
	kind := types.Kind(parts[0])
	if !kind.Valid() {
		return nil, false
	}
	size, _ := strconv.ParseInt(parts[4], 10, 64)
	return &types.Item{
		Kind:     kind,
		Handle:   unescaper.Replace(parts[1]),
		Text:     unescaper.Replace(parts[2]),
		FileName: unescaper.Replace(parts[3]),
		FileSize: size,
	}, true
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/collectbot/internal/access"
	"github.com/user/collectbot/internal/collector"
	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/store"
	"github.com/user/collectbot/internal/types"
)

var exportOut string

func init() {
	rootCmd.AddCommand(collectionCmd)
	collectionCmd.AddCommand(collectionListCmd, collectionExportCmd, collectionImportCmd)
	collectionExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: the backup's own name)")
}

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Inspect and back up stored collections",
}

// openService opens the database for offline use. No transport is wired,
// so only storage-backed operations are available.
func openService() (*collector.Service, *store.SQLite, error) {
	cfg := loadConfig()
	st, err := store.Open(filepath.Join(cfg.DataDir, dbFileName))
	if err != nil {
		return nil, nil, err
	}
	sessions := session.NewStore()
	svc := collector.New(collector.Deps{
		Store:    st,
		Sessions: sessions,
		Access:   access.New(st, sessions, nil),
	})
	return svc, st, nil
}

func parseInt64(s, what string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return n, nil
}

var collectionListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's collections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseInt64(args[0], "user id")
		if err != nil {
			return err
		}
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		list, err := svc.Collections(ctx, types.UserID(owner))
		if err != nil {
			return fmt.Errorf("list collections: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No collections.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tITEMS")
		for _, c := range list {
			n, err := st.CountItems(ctx, c.ID)
			if err != nil {
				return fmt.Errorf("count items: %w", err)
			}
			fmt.Fprintf(w, "%d\t%s\t%d\n", c.ID, c.Name, n)
		}
		return w.Flush()
	},
}

var collectionExportCmd = &cobra.Command{
	Use:   "export <collection-id>",
	Short: "Write a collection backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInt64(args[0], "collection id")
		if err != nil {
			return err
		}
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		coll, err := st.Collection(ctx, types.CollectionID(id))
		if err != nil {
			return fmt.Errorf("load collection: %w", err)
		}
		if coll == nil {
			return fmt.Errorf("collection %d not found", id)
		}
		name, data, err := svc.Export(ctx, coll.OwnerID, coll.ID)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if exportOut != "" {
			name = exportOut
		}
		if err := os.WriteFile(name, data, 0644); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Wrote %s (%d bytes).\n", name, len(data))
		return nil
	},
}

var collectionImportCmd = &cobra.Command{
	Use:   "import <user-id> <file>",
	Short: "Restore a backup file as a new collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseInt64(args[0], "user id")
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read backup: %w", err)
		}
		svc, st, err := openService()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := svc.Import(context.Background(), types.UserID(owner), filepath.Base(args[1]), data)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Imported %d items into %q (id %d), skipped %d.\n",
			res.Imported, res.Collection.Name, res.Collection.ID, res.Skipped)
		return nil
	},
}

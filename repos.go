package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/git-autofetch/catalog"
)

var reposCommand = &cli.Command{
	Name:  "repos",
	Usage: "manage repositories of the catalog",
	Commands: []*cli.Command{
		{
			Name:  "list",
			Usage: "list all repositories",
			Action: func(ctx context.Context, c *cli.Command) error {
				return withStore(c, func(store *catalog.SQLiteStore) error {
					return listRepos(ctx, c.Root().Writer, store)
				})
			},
		},
		{
			Name:  "add",
			Usage: "add a repository to the catalog",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Required: true, Usage: "name of the repository"},
				&cli.StringFlag{Name: "path", Required: true, Usage: "local path, relative to repositories_path"},
				&cli.StringFlag{Name: "status", Value: string(catalog.StatusNotCloned), Usage: "clone status"},
			},
			Action: func(ctx context.Context, c *cli.Command) error {
				return withStore(c, func(store *catalog.SQLiteStore) error {
					return addRepo(ctx, c.Root().Writer, store, c.String("name"), c.String("path"), c.String("status"))
				})
			},
		},
		{
			Name:  "set-status",
			Usage: "set clone status of a repository",
			Flags: []cli.Flag{
				&cli.Int64Flag{Name: "id", Required: true, Usage: "id of the repository"},
				&cli.StringFlag{Name: "status", Required: true, Usage: "one of not_cloned, cloning, cloned, failed"},
			},
			Action: func(ctx context.Context, c *cli.Command) error {
				return withStore(c, func(store *catalog.SQLiteStore) error {
					return setRepoStatus(ctx, c.Root().Writer, store, c.Int64("id"), c.String("status"))
				})
			},
		},
	},
}

// withStore opens the catalog configured in the config file
func withStore(c *cli.Command, fn func(store *catalog.SQLiteStore) error) error {
	confSource, err := newConfigSource(c.String("config"), logger.With("logger", "config"))
	if err != nil {
		return err
	}

	store, err := catalog.NewSQLiteStore(confSource.Config().CatalogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store)
}

func listRepos(ctx context.Context, w io.Writer, store *catalog.SQLiteStore) error {
	repos, err := store.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPATH\tSTATUS\tLAST CHECKED")
	for _, r := range repos {
		lastChecked := "never"
		if r.LastChecked != nil {
			lastChecked = r.LastChecked.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.LocalPath, r.CloneStatus, lastChecked)
	}
	return tw.Flush()
}

func addRepo(ctx context.Context, w io.Writer, store *catalog.SQLiteStore, name, path, status string) error {
	cs, err := catalog.ParseCloneStatus(status)
	if err != nil {
		return err
	}

	repo, err := store.Add(ctx, catalog.Repository{Name: name, LocalPath: path, CloneStatus: cs})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "added repository id:%d name:%s status:%s\n", repo.ID, repo.Name, repo.CloneStatus)
	return nil
}

func setRepoStatus(ctx context.Context, w io.Writer, store *catalog.SQLiteStore, id int64, status string) error {
	cs, err := catalog.ParseCloneStatus(status)
	if err != nil {
		return err
	}

	if err := store.SetStatus(ctx, id, cs); err != nil {
		return fmt.Errorf("unable to set status of repo id:%d err:%w", id, err)
	}

	fmt.Fprintf(w, "repository id:%d status:%s\n", id, cs)
	return nil
}

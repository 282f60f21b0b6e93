// Command f17fsutil is a smoke-test binary for the f17fs library: it can
// format a fresh image, mount an existing one and print occupancy stats, or
// list a directory's entries. It is deliberately not an interactive shell.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dargueta/f17fs"
)

func main() {
	app := cli.App{
		Name:  "f17fsutil",
		Usage: "format, inspect, and list f17fs images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create a new, empty f17fs image",
				ArgsUsage: "IMAGE_PATH",
				Action:    formatImage,
			},
			{
				Name:      "stat",
				Usage:     "Mount an image and print occupancy counters",
				ArgsUsage: "IMAGE_PATH",
				Action:    statImage,
			},
			{
				Name:      "ls",
				Usage:     "Mount an image and list a directory's entries",
				ArgsUsage: "IMAGE_PATH DIR_PATH",
				Action:    listDir,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err)
	}
}

func formatImage(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.Exit("missing IMAGE_PATH", 1)
	}

	fs, err := f17fs.Format(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("format failed: %s", err), 2)
	}
	defer fs.Unmount()

	fmt.Printf("formatted %s\n", path)
	return nil
}

func statImage(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.Exit("missing IMAGE_PATH", 1)
	}

	fs, err := f17fs.Mount(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("mount failed: %s", err), 2)
	}
	defer fs.Unmount()

	freeBlocks, freeInodes := fs.Stat()
	fmt.Printf("%s: %d free blocks, %d free inodes\n", path, freeBlocks, freeInodes)
	return nil
}

func listDir(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 2 {
		return cli.Exit("usage: ls IMAGE_PATH DIR_PATH", 1)
	}

	fs, err := f17fs.Mount(args.Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("mount failed: %s", err), 2)
	}
	defer fs.Unmount()

	entries, err := fs.ListDir(args.Get(1))
	if err != nil {
		return cli.Exit(fmt.Sprintf("ls failed: %s", err), 2)
	}

	for _, e := range entries {
		kind := "f"
		if e.IsDir {
			kind = "d"
		}
		fmt.Printf("%s %3d %s\n", kind, e.InodeNumber, e.Name)
	}
	return nil
}

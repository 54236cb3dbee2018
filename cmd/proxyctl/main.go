package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/statserver"
)

func main() {
	app := cli.App{
		Name:  "proxyctl",
		Usage: "Manage the targets of a running block proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "address of the proxy HTTP server",
				Value:   "http://localhost:5010",
				EnvVars: []string{"BLOCKPROXY_ADDR"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a proxy target over a backing device",
				ArgsUsage: "NAME BACKING_PATH",
				Action:    createTarget,
			},
			{
				Name:      "remove",
				Usage:     "Remove a proxy target",
				ArgsUsage: "NAME",
				Action:    removeTarget,
			},
			{
				Name:   "list",
				Usage:  "List proxy targets",
				Action: listTargets,
			},
			{
				Name:   "stats",
				Usage:  "Print the request statistics report",
				Action: printStats,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func client(c *cli.Context) *statserver.Client {
	return statserver.NewClient(c.String("addr"))
}

func createTarget(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("missing target name", 2)
	}

	// Everything after the name is the table, so a wrong argument count is
	// reported by the proxy itself.
	info, err := client(c).CreateTarget(c.Context, c.Args().First(), c.Args().Tail())
	if err != nil {
		return err
	}

	fmt.Printf("created %s over %s (%s)\n", info.Name, info.Backing, humanize.IBytes(uint64(info.Size)))

	return nil
}

func removeTarget(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one target name", 2)
	}

	return client(c).RemoveTarget(c.Context, c.Args().First())
}

func listTargets(c *cli.Context) error {
	infos, err := client(c).ListTargets(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBACKING\tSIZE\tNBD\tID")

	for _, info := range infos {
		nbd := "-"
		if info.NBDIndex != nil {
			nbd = fmt.Sprintf("/dev/nbd%d", *info.NBDIndex)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.Name, info.Backing, humanize.IBytes(uint64(info.Size)), nbd, info.DeviceID)
	}

	return w.Flush()
}

func printStats(c *cli.Context) error {
	report, err := client(c).Volumes(c.Context)
	if err != nil {
		return err
	}

	fmt.Print(report)

	return nil
}

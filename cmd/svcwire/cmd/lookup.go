package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up services or a service class",
	Long: `Look up the services of a class, one named instance, or everything.

Examples:
  svcwire lookup
  svcwire lookup --class 6f1d2f4a-8c1e-4b7d-9a3b-1c2d3e4f5a6b
  svcwire lookup --class 6f1d2f4a-8c1e-4b7d-9a3b-1c2d3e4f5a6b --name printer.lab
  svcwire lookup --class 6f1d2f4a-8c1e-4b7d-9a3b-1c2d3e4f5a6b --class-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawClass, _ := cmd.Flags().GetString("class")
		name, _ := cmd.Flags().GetString("name")
		classOnly, _ := cmd.Flags().GetBool("class-only")

		classID := uuid.Nil
		if strings.TrimSpace(rawClass) != "" {
			id, err := uuid.Parse(rawClass)
			if err != nil {
				return fmt.Errorf("--class: %w", err)
			}
			classID = id
		}
		if classOnly && classID == uuid.Nil {
			return fmt.Errorf("--class-only needs --class")
		}

		conn, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer conn.Close()

		out := cmd.OutOrStdout()
		if classOnly {
			sc, err := conn.LookupClass(ctx, classID)
			if err != nil {
				return err
			}
			printClass(out, sc)
			return nil
		}
		records, err := conn.Lookup(ctx, classID, name)
		if err != nil {
			return err
		}
		for _, rec := range records {
			printRecord(out, rec)
		}
		fmt.Fprintf(out, "%d record(s)\n", len(records))
		return nil
	},
}

func printRecord(w io.Writer, rec *record.Record) {
	fmt.Fprintf(w, "%s", text(rec.InstanceName))
	if id, ok := rec.ClassID.Get(); ok {
		fmt.Fprintf(w, " class=%s", id)
	}
	if v, ok := rec.Version.Get(); ok {
		op := "="
		if v.How == record.CompareNotLess {
			op = ">="
		}
		fmt.Fprintf(w, " version%s%d", op, v.Version)
	}
	if c, ok := rec.Comment.Get(); ok {
		fmt.Fprintf(w, " comment=%q", c)
	}
	if q, ok := rec.QueryString.Get(); ok {
		fmt.Fprintf(w, " query=%q", q)
	}
	fmt.Fprintln(w)
	for _, pair := range rec.AddressPairs.Value() {
		fmt.Fprintf(w, "  local=%s remote=%s socket_type=%d protocol=%d\n",
			address(pair.Local), address(pair.Remote), pair.SocketType, pair.Protocol)
	}
}

func printClass(w io.Writer, sc *record.ServiceClassInfo) {
	fmt.Fprintf(w, "%s", text(sc.ClassName))
	if id, ok := sc.ClassID.Get(); ok {
		fmt.Fprintf(w, " class=%s", id)
	}
	fmt.Fprintln(w)
	for _, info := range sc.ClassInfos.Value() {
		fmt.Fprintf(w, "  name_space=%d value_type=%d value=%d\n", info.NameSpace, info.ValueType, info.Value)
	}
}

func text(o record.Optional[string]) string {
	s, ok := o.Get()
	switch {
	case !ok:
		return "<absent>"
	case s == "":
		return `""`
	default:
		return s
	}
}

func address(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	if ap, err := record.AddrPortFromSockaddr(b); err == nil {
		return ap.String()
	}
	return "0x" + hex.EncodeToString(b)
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().String("class", "", "Class id (uuid); empty looks up every class")
	lookupCmd.Flags().String("name", "", "Instance name within --class")
	lookupCmd.Flags().Bool("class-only", false, "Fetch the class description instead of its services")
	addTimeoutFlag(lookupCmd)
}

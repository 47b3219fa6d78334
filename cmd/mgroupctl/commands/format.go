package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/mgroupd/mgroupd/internal/ctlproto"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// --- vif ---

func formatVifs(vifs []ctlproto.VifInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(vifs)
	case formatTable:
		return formatVifsTable(vifs), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatVifsTable(vifs []ctlproto.VifInfo) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFAMILY\tINDEX\tUP\tQUERIER\tPROTO\tPRIMARY-ADDR\tADDRS\tGROUPS")

	for _, v := range vifs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%t\t%d\t%s\t%s\t%d\n",
			v.Name, v.Family, v.Index, v.Up, v.IsQuerier, v.ProtoVersion,
			orNA(v.PrimaryAddr), vifAddrsJoined(v.Addrs), v.GroupCount)
	}

	_ = w.Flush()
	return buf.String()
}

// --- group ---

func formatGroups(groups []ctlproto.GroupInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(groups)
	case formatTable:
		return formatGroupsTable(groups), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatGroupsTable(groups []ctlproto.GroupInfo) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tCOMPAT\tMODE\tSOURCES\tTIMEOUT")

	for _, g := range groups {
		sources := valueNA
		if len(g.Sources) > 0 {
			sources = strings.Join(g.Sources, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%ds\n", g.Group, g.CompatMode, g.FilterMode, sources, g.TimeoutSeconds)
	}

	_ = w.Flush()
	return buf.String()
}

// --- querier ---

func formatQuerier(q ctlproto.ShowQuerierResult, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(q)
	case formatTable:
		return formatQuerierTable(q), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatQuerierTable(q ctlproto.ShowQuerierResult) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Vif:\t%s\n", q.Vif)
	fmt.Fprintf(w, "Is Querier:\t%t\n", q.IsQuerier)
	fmt.Fprintf(w, "Querier Address:\t%s\n", orNA(q.QuerierAddr))
	_ = w.Flush()
	return buf.String()
}

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func orNA(s string) string {
	if s == "" {
		return valueNA
	}
	return s
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	roomdbCmd.AddCommand(
		&cobra.Command{
			Use:   "config",
			Short: "Print the config variables and where each value came from",
			Run: func(cmd *cobra.Command, args []string) {
				printConfig(os.Stdout)
			},
		})
}

func configValues() [][]string {
	var values [][]string

	for name, flg := range cfgVars {
		var used bool
		if flg != nil {
			_, ok := usedFlags[flg.Name]
			if ok {
				used = true
			}
		}

		var val string
		var by string

		if used {
			val = flg.Value.String()
			by = "flag"
		} else if obj, ok := cfg[name]; ok {
			switch obj.(type) {
			case []interface{}, []map[string]interface{}, map[string]interface{}:
				val = "..."
			default:
				val = fmt.Sprintf("%v", obj)
			}
			by = "config"
		} else if flg != nil {
			val = flg.DefValue
			by = "default"
		} else {
			continue
		}

		values = append(values, []string{name, by, val})
	}

	sort.Slice(values, func(i, j int) bool { return values[i][0] < values[j][0] })
	return values
}

func printConfig(w io.Writer) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"name", "by", "value"})
	tw.AppendBulk(configValues())
	tw.Render()
}

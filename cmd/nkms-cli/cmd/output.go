package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var (
	stdout      io.Writer = os.Stdout
	debugWriter io.Writer = os.Stderr
)

// preferredColumns lead tables in this order when present.
var preferredColumns = []string{"id", "timestamp", "action", "entity_type", "actor", "hrac", "index", "node", "name"}

// OutputData prints data in the specified format
func OutputData(data interface{}) error {
	switch output {
	case "json":
		return outputJSON(data)
	case "yaml":
		return outputYAML(data)
	case "table":
		return outputTable(data)
	default:
		return fmt.Errorf("unsupported output format: %s", output)
	}
}

func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(data interface{}) error {
	encoder := yaml.NewEncoder(stdout)
	defer encoder.Close()
	return encoder.Encode(data)
}

func outputTable(data interface{}) error {
	switch v := data.(type) {
	case []interface{}:
		if len(v) == 0 {
			fmt.Fprintln(stdout, "No results found.")
			return nil
		}
		return printTableFromSlice(v)
	case map[string]interface{}:
		return printTableFromMap(v)
	default:
		return outputJSON(data)
	}
}

func printTableFromSlice(items []interface{}) error {
	headers, err := extractHeaders(items[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, strings.Join(lo.Map(headers, func(h string, _ int) string { return strings.ToUpper(h) }), "\t"))
	fmt.Fprintln(w, strings.Repeat("-", len(headers)*20))

	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return fmt.Errorf("expected map[string]interface{}, got %T", item)
		}
		values := lo.Map(headers, func(h string, _ int) string { return formatValue(m[h]) })
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	return nil
}

func printTableFromMap(m map[string]interface{}) error {
	w := tabwriter.NewWriter(stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	keys := lo.Keys(m)
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s:\t%v\n", key, formatValue(m[key]))
	}
	return nil
}

// extractHeaders lists the keys of item, preferred columns first and the
// rest alphabetically.
func extractHeaders(item interface{}) ([]string, error) {
	m, ok := item.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map[string]interface{}, got %T", item)
	}

	headers := lo.Filter(preferredColumns, func(key string, _ int) bool {
		_, exists := m[key]
		return exists
	})
	rest := lo.Without(lo.Keys(m), preferredColumns...)
	sort.Strings(rest)
	return append(headers, rest...), nil
}

func formatValue(v interface{}) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		if len(val) > 50 {
			return val[:47] + "..."
		}
		return val
	case bool:
		if val {
			return "✓"
		}
		return "✗"
	case float64:
		return fmt.Sprintf("%.0f", val)
	case []interface{}:
		if len(val) == 0 {
			return "[]"
		}
		items := lo.Map(val, func(item interface{}, _ int) string { return fmt.Sprintf("%v", item) })
		result := "[" + strings.Join(items, ", ") + "]"
		if len(result) > 50 {
			return result[:47] + "..."
		}
		return result
	case map[string]interface{}:
		if len(val) == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d fields}", len(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PrintSuccess prints a success message. Messages go to stderr so that
// json and yaml output stay machine readable.
func PrintSuccess(message string) {
	fmt.Fprintf(debugWriter, "✓ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Fprintf(debugWriter, "✗ Error: %s\n", message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Fprintf(debugWriter, "⚠ Warning: %s\n", message)
}

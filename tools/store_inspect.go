package main

import (
	"chat-sync/repositories"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Dumps the documents of a Badger store as a table.
// Usage: go run ./tools -db ./data/chat-sync -prefix doc:rooms/
func main() {
	dbPath := flag.String("db", "./data/chat-sync", "Path to badger DB")
	prefix := flag.String("prefix", "doc:", "Prefix to scan")
	raw := flag.Bool("raw", false, "Print stored values as protojson")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Fields"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(v []byte) error {
				if strings.HasPrefix(key, "idx:") {
					table.Append([]string{key, string(v)})
					return nil
				}
				detail, err := describe(v, *raw)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", key, err)
					return nil
				}
				table.Append([]string{key, detail})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func describe(value []byte, raw bool) (string, error) {
	if raw {
		var s structpb.Struct
		if err := proto.Unmarshal(value, &s); err != nil {
			return "", err
		}
		return protojson.Format(&s), nil
	}
	fields, err := repositories.DecodeBadgerValue(value)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, format(fields[name])))
	}
	return strings.Join(parts, " "), nil
}

func format(v any) string {
	switch value := v.(type) {
	case time.Time:
		return value.Local().Format("2006-01-02 15:04:05.000000")
	case []any:
		items := make([]string, 0, len(value))
		for _, item := range value {
			items = append(items, format(item))
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, 0, len(keys))
		for _, k := range keys {
			items = append(items, k+":"+format(value[k]))
		}
		return "{" + strings.Join(items, " ") + "}"
	default:
		return fmt.Sprint(value)
	}
}

// Command badger_inspect dumps the server's BadgerDB content as tables,
// one per key family. Useful for checking what actually landed on disk
// without starting the server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"dm-chat/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "/tmp/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg: or user:id:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	switch {
	case strings.HasPrefix(*prefix, "msg:"):
		table.SetHeader([]string{"Key", "Sender", "Receiver", "At", "Content"})
	case strings.HasPrefix(*prefix, "user:id:"):
		table.SetHeader([]string{"Key", "Username", "Email", "Roles", "Created"})
	default:
		table.SetHeader([]string{"Key", "Value"})
	}
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

			// The email index stores bare user ids, not JSON documents.
			if strings.HasPrefix(key, "user:email:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				table.Append(renderRow(key, v))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("Error reading data: ", err)
	}

	table.Render()
}

func renderRow(key string, value []byte) []string {
	switch {
	case strings.HasPrefix(key, "msg:"):
		var message repositories.DiskMessage
		if err := json.Unmarshal(value, &message); err != nil {
			// A broken record should not stop the whole dump.
			fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
			return []string{key, "?", "?", "?", "?"}
		}
		return []string{
			key,
			message.Sender,
			message.Receiver,
			message.At.Format(time.RFC3339),
			message.Content,
		}
	case strings.HasPrefix(key, "user:id:"):
		var user repositories.User
		if err := json.Unmarshal(value, &user); err != nil {
			fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
			return []string{key, "?", "?", "?", "?"}
		}
		return []string{
			key,
			user.Username,
			user.Email,
			strings.Join(user.Roles, ","),
			user.CreatedAt.Format(time.RFC3339),
		}
	default:
		return []string{key, string(value)}
	}
}

func openDB(path string) (*badger.DB, error) {
	options := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR)
	return badger.Open(options)
}

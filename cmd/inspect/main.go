package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"session-chat/domain/chat"
	"session-chat/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	roomFlag := flag.String("room", "", "Room to dump")
	limit := flag.Int("limit", chat.DefaultHistoryLimit, "Number of messages, at most 200")
	before := flag.Int64("before", 0, "Only messages older than this id")
	flag.Parse()

	room, err := chat.ParseRoomID(*roomFlag)
	if err != nil {
		log.Fatal("Invalid -room: ", err)
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	repository := repositories.NewMessageRepository(db, logs.GetLoggerFromLevel(slog.LevelError))
	messages, err := page(context.Background(), repository, room, *before, *limit)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Created At", "Author", "Tag", "Content"})
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
	table.AppendBulk(lo.Map(messages, func(m chat.Message, _ int) []string {
		return []string{
			strconv.FormatInt(m.ID, 10),
			m.CreatedAt.Format("2006-01-02 15:04:05.000000"),
			m.Author.DisplayName,
			string(m.Tag),
			m.Content,
		}
	}))
	table.Render()
	fmt.Printf("%d message(s) in room %s\n", len(messages), room)
}

func page(ctx context.Context, repository *repositories.MessageRepository, room chat.RoomID, before int64, limit int) ([]chat.Message, error) {
	if before > 0 {
		return repository.HistoryBefore(ctx, room, before, limit)
	}
	return repository.History(ctx, room, limit)
}

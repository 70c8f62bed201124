package main

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"trackbot/internal/app"
	"trackbot/internal/config"
	"trackbot/internal/storage"
	logx "trackbot/pkg/logx"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print persisted tracked players",
	Long: `Read the configured storage and print every tracked player with its
last seen play time and subscribed chats. The bot does not need to run.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewManager(cfgPath, logx.Nop()).Load()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	st, err := app.OpenStore(cfg, logx.Nop())
	if errors.Is(err, storage.ErrDisabled) {
		return errors.New("storage is disabled in this config")
	}
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.LoadTracked(cmd.Context())
	if err != nil {
		return err
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Key.UserID != recs[j].Key.UserID {
			return recs[i].Key.UserID < recs[j].Key.UserID
		}
		return recs[i].Key.Mode < recs[j].Key.Mode
	})

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tMODE\tLAST SEEN\tCHATS")
	for _, r := range recs {
		chats := make([]string, 0, len(r.Channels))
		for ch, limit := range r.Channels {
			chats = append(chats, fmt.Sprintf("%d(top %d)", ch, limit))
		}
		sort.Strings(chats)
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", r.Key.UserID, r.Key.Mode, r.LastUpdate.UTC().Format(time.RFC3339), chats)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d tracked\n", len(recs))
	return nil
}

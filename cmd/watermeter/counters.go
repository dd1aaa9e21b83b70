package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/meters"
	"github.com/bher20/watermeter/internal/storage"
)

func newCounterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "counter",
		Aliases: []string{"counters"},
		Short:   "Manage water counters",
	}

	var category, description string
	add := &cobra.Command{
		Use:   "add NUMBER",
		Short: "Register a counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.meters.CreateCounter(cmd.Context(), meters.CounterInput{
				Number:      args[0],
				Category:    storage.Category(category),
				Description: description,
			})
			if err != nil {
				return err
			}
			return a.print(c, func(w io.Writer) {
				fmt.Fprintf(w, "created counter %d (%s, %s)\n", c.ID, c.Number, c.Category)
			})
		},
	}
	add.Flags().StringVarP(&category, "category", "c", "", "hot or cold")
	add.Flags().StringVarP(&description, "description", "d", "", "free-form description")
	_ = add.MarkFlagRequired("category")

	var listCategory string
	list := &cobra.Command{
		Use:   "list",
		Short: "List counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				cs  []storage.Counter
				err error
			)
			if listCategory != "" {
				cs, err = a.meters.ListCountersByCategory(cmd.Context(), storage.Category(listCategory))
			} else {
				cs, err = a.meters.ListCounters(cmd.Context())
			}
			if err != nil {
				return err
			}
			return a.print(cs, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tNUMBER\tCATEGORY\tDESCRIPTION")
				for _, c := range cs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.Number, c.Category, c.Description)
				}
			})
		},
	}
	list.Flags().StringVarP(&listCategory, "category", "c", "", "only counters of this category")

	var editNumber, editCategory, editDescription string
	edit := &cobra.Command{
		Use:   "edit COUNTER",
		Short: "Change a counter's number, category or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.resolveCounter(cmd, args[0])
			if err != nil {
				return err
			}
			var upd meters.CounterUpdate
			if cmd.Flags().Changed("number") {
				upd.Number = &editNumber
			}
			if cmd.Flags().Changed("category") {
				cat := storage.Category(editCategory)
				upd.Category = &cat
			}
			if cmd.Flags().Changed("description") {
				upd.Description = &editDescription
			}
			updated, err := a.meters.UpdateCounter(cmd.Context(), c.ID, upd)
			if err != nil {
				return err
			}
			if updated == nil {
				return fmt.Errorf("%w: %d", meters.ErrCounterNotFound, c.ID)
			}
			return a.print(updated, func(w io.Writer) {
				fmt.Fprintf(w, "updated counter %d (%s, %s)\n", updated.ID, updated.Number, updated.Category)
			})
		},
	}
	edit.Flags().StringVar(&editNumber, "number", "", "new number")
	edit.Flags().StringVar(&editCategory, "category", "", "new category")
	edit.Flags().StringVar(&editDescription, "description", "", "new description")

	del := &cobra.Command{
		Use:     "delete COUNTER",
		Aliases: []string{"rm"},
		Short:   "Delete a counter and all of its readings",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.resolveCounter(cmd, args[0])
			if err != nil {
				return err
			}
			if _, err := a.meters.DeleteCounter(cmd.Context(), c.ID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted counter %s\n", c.Number)
			return nil
		},
	}

	cmd.AddCommand(add, list, edit, del)
	return cmd
}

func newReadingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reading",
		Aliases: []string{"readings"},
		Short:   "Record and inspect meter readings",
	}

	var date string
	add := &cobra.Command{
		Use:   "add COUNTER VALUE",
		Short: "Record a cumulative reading",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.resolveCounter(cmd, args[0])
			if err != nil {
				return err
			}
			value, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("value %q is not an integer", args[1])
			}
			in := meters.ReadingInput{CounterID: c.ID, Value: value}
			if date != "" {
				if in.ReadingDate, err = clock.ParseDate(date); err != nil {
					return err
				}
			}
			r, err := a.meters.RecordReading(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.print(r, func(w io.Writer) {
				fmt.Fprintf(w, "recorded %s = %d on %s\n", c.Number, r.Value, r.ReadingDate.Format(time.DateOnly))
			})
		},
	}
	add.Flags().StringVar(&date, "date", "", "reading date (YYYY-MM-DD or DD.MM.YYYY), default today")

	var limit int
	var from, to string
	list := &cobra.Command{
		Use:   "list [COUNTER]",
		Short: "Show the latest readings of a counter, or all readings between --from and --to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var rs []storage.Reading
			if len(args) == 1 {
				c, err := a.resolveCounter(cmd, args[0])
				if err != nil {
					return err
				}
				if rs, err = a.meters.ReadingHistory(ctx, c.ID, limit); err != nil {
					return err
				}
			} else {
				if from == "" || to == "" {
					return errors.New("give a COUNTER, or both --from and --to")
				}
				start, err := clock.ParseDate(from)
				if err != nil {
					return err
				}
				end, err := clock.ParseDate(to)
				if err != nil {
					return err
				}
				if rs, err = a.meters.ReadingsBetween(ctx, start, end.Add(24*time.Hour-time.Second)); err != nil {
					return err
				}
			}
			numbers, err := a.counterNumbers(cmd)
			if err != nil {
				return err
			}
			return a.print(rs, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tCOUNTER\tVALUE\tDATE")
				for _, r := range rs {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", r.ID, numbers[r.CounterID], r.Value, r.ReadingDate.Format(time.DateOnly))
				}
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", meters.DefaultHistoryLimit, "readings to show for a counter")
	list.Flags().StringVar(&from, "from", "", "first day")
	list.Flags().StringVar(&to, "to", "", "last day, inclusive")

	var at string
	latest := &cobra.Command{
		Use:   "latest COUNTER",
		Short: "Show the newest reading of a counter, or the one in effect at --at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.resolveCounter(cmd, args[0])
			if err != nil {
				return err
			}
			var r *storage.Reading
			if at != "" {
				when, err := clock.ParseDate(at)
				if err != nil {
					return err
				}
				r, err = a.meters.ReadingAtOrBefore(cmd.Context(), c.ID, when.Add(24*time.Hour-time.Second))
				if err != nil {
					return err
				}
			} else if r, err = a.meters.LatestReading(cmd.Context(), c.ID); err != nil {
				return err
			}
			if r == nil {
				return fmt.Errorf("counter %s has no readings", c.Number)
			}
			return a.print(r, func(w io.Writer) {
				fmt.Fprintf(w, "%s = %d on %s\n", c.Number, r.Value, r.ReadingDate.Format(time.DateOnly))
			})
		},
	}
	latest.Flags().StringVar(&at, "at", "", "day to look back from")

	cmd.AddCommand(add, list, latest)
	return cmd
}

func (a *app) counterNumbers(cmd *cobra.Command) (map[uint]string, error) {
	cs, err := a.meters.ListCounters(cmd.Context())
	if err != nil {
		return nil, err
	}
	out := make(map[uint]string, len(cs))
	for _, c := range cs {
		out[c.ID] = c.Number
	}
	return out, nil
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/bher20/watermeter/internal/billing"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/storage"
)

const money = 2

func newTariffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tariff",
		Aliases: []string{"tariffs"},
		Short:   "Manage prices per cubic meter",
	}

	var from string
	set := &cobra.Command{
		Use:   "set SERVICE PRICE",
		Short: "Start a new price for cold_water, hot_water or wastewater",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("price %q is not a number", args[1])
			}
			in := billing.TariffInput{ServiceType: storage.ServiceType(args[0]), Price: price}
			if from != "" {
				if in.EffectiveDate, err = clock.ParseDate(from); err != nil {
					return err
				}
			}
			t, err := a.tariffs.SetTariff(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.print(t, func(w io.Writer) {
				fmt.Fprintf(w, "%s now %s from %s\n", t.ServiceType, t.Price.StringFixed(money), t.StartDate.Format(time.DateOnly))
			})
		},
	}
	set.Flags().StringVar(&from, "from", "", "effective date, default now")

	var at string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the tariffs in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			when := a.clock.Now()
			if at != "" {
				var err error
				if when, err = clock.ParseDate(at); err != nil {
					return err
				}
			}
			current, err := a.tariffs.CurrentTariffs(cmd.Context(), when)
			if err != nil {
				return err
			}
			return a.print(current, func(w io.Writer) {
				fmt.Fprintln(w, "SERVICE\tPRICE\tSINCE")
				for _, svc := range storage.ServiceTypes {
					t, ok := current[svc]
					if !ok {
						fmt.Fprintf(w, "%s\tnot configured\t\n", svc)
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", svc, t.Price.StringFixed(money), t.StartDate.Format(time.DateOnly))
				}
			})
		},
	}
	show.Flags().StringVar(&at, "at", "", "date to resolve tariffs at, default now")

	history := &cobra.Command{
		Use:   "history SERVICE",
		Short: "List every tariff of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := a.tariffs.TariffHistory(cmd.Context(), storage.ServiceType(args[0]))
			if err != nil {
				return err
			}
			return a.print(ts, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tPRICE\tFROM\tUNTIL")
				for _, t := range ts {
					until := "open"
					if t.EndDate != nil {
						until = t.EndDate.Format(time.DateOnly)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.ID, t.Price.StringFixed(money), t.StartDate.Format(time.DateOnly), until)
				}
			})
		},
	}

	cmd.AddCommand(set, show, history)
	return cmd
}

func newBillCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bill",
		Short: "Price consumption with the current tariffs",
	}

	var (
		year, month int
		save        bool
		note        string
	)
	calc := &cobra.Command{
		Use:   "calc",
		Short: "Calculate the bill for a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := a.clock.Now()
			if !cmd.Flags().Changed("year") {
				year = now.Year()
			}
			if !cmd.Flags().Changed("month") {
				month = int(now.Month())
			}
			c, err := a.payments.CalculateMonthlyPayment(cmd.Context(), year, month)
			if err != nil {
				return err
			}
			return a.finishBill(cmd, c, save, note)
		},
	}
	calc.Flags().IntVar(&year, "year", 0, "year, default current")
	calc.Flags().IntVar(&month, "month", 0, "month 1-12, default current")
	calc.Flags().BoolVar(&save, "save", false, "persist the result as a payment")
	calc.Flags().StringVar(&note, "note", "", "note stored with the payment")

	var (
		from, to   string
		periodSave bool
		periodNote string
	)
	period := &cobra.Command{
		Use:   "period",
		Short: "Calculate the bill between two dates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := clock.ParseDate(from)
			if err != nil {
				return err
			}
			end, err := clock.ParseDate(to)
			if err != nil {
				return err
			}
			c, err := a.payments.CalculatePeriod(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return a.finishBill(cmd, c, periodSave, periodNote)
		},
	}
	period.Flags().StringVar(&from, "from", "", "period start")
	period.Flags().StringVar(&to, "to", "", "period end")
	period.Flags().BoolVar(&periodSave, "save", false, "persist the result as a payment")
	period.Flags().StringVar(&periodNote, "note", "", "note stored with the payment")
	_ = period.MarkFlagRequired("from")
	_ = period.MarkFlagRequired("to")

	cmd.AddCommand(calc, period)
	return cmd
}

// finishBill prints the calculation and, with save, persists it.
func (a *app) finishBill(cmd *cobra.Command, c *billing.PaymentCalculation, save bool, note string) error {
	if !save {
		return a.print(c, func(w io.Writer) { writeCalculation(w, c) })
	}
	p, err := a.payments.Persist(cmd.Context(), c, note)
	if err != nil {
		return err
	}
	return a.print(p, func(w io.Writer) {
		writeCalculation(w, c)
		fmt.Fprintf(w, "\nsaved payment %d (%s)\n", p.ID, p.Reference)
	})
}

func writeCalculation(w io.Writer, c *billing.PaymentCalculation) {
	fmt.Fprintf(w, "Period\t%s – %s\n", c.Period.Start.Format("02.01.2006"), c.Period.End.Format("02.01.2006"))
	fmt.Fprintln(w, "SERVICE\tM³\tRATE\tAMOUNT")
	fmt.Fprintf(w, "hot water\t%d\t%s\t%s\n", c.HotWaterConsumption, c.HotWaterRate.StringFixed(money), c.HotWaterAmount.StringFixed(money))
	fmt.Fprintf(w, "cold water\t%d\t%s\t%s\n", c.ColdWaterConsumption, c.ColdWaterRate.StringFixed(money), c.ColdWaterAmount.StringFixed(money))
	fmt.Fprintf(w, "wastewater\t%d\t%s\t%s\n", c.WastewaterConsumption, c.WastewaterRate.StringFixed(money), c.WastewaterAmount.StringFixed(money))
	fmt.Fprintf(w, "TOTAL\t\t\t%s\n", c.TotalAmount.StringFixed(money))
	for _, d := range c.Diagnostics {
		fmt.Fprintf(w, "warning: %s\n", d.Message)
	}
}

func newPaymentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "payment",
		Aliases: []string{"payments"},
		Short:   "Inspect saved payments",
	}

	var year int
	list := &cobra.Command{
		Use:   "list",
		Short: "List payments, newest first, or those of --year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				ps  []storage.Payment
				err error
			)
			if cmd.Flags().Changed("year") {
				ps, err = a.payments.PaymentsByYear(cmd.Context(), year)
			} else {
				ps, err = a.payments.ListPayments(cmd.Context())
			}
			if err != nil {
				return err
			}
			return a.print(ps, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tPERIOD\tHOT\tCOLD\tWASTE\tTOTAL\tNOTE")
				for _, p := range ps {
					fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n", p.ID, p.PeriodStart.Format("01/2006"),
						p.HotWaterConsumption, p.ColdWaterConsumption, p.WastewaterConsumption,
						p.TotalAmount.StringFixed(money), p.Notes)
				}
			})
		},
	}
	list.Flags().IntVar(&year, "year", 0, "only payments whose period starts in this year")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show one payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.payments.GetPayment(cmd.Context(), id)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("payment %d not found", id)
			}
			return a.print(p, func(w io.Writer) {
				fmt.Fprintf(w, "Reference\t%s\n", p.Reference)
				fmt.Fprintf(w, "Period\t%s – %s\n", p.PeriodStart.Format("02.01.2006"), p.PeriodEnd.Format("02.01.2006"))
				fmt.Fprintf(w, "Hot water\t%d m³ × %s = %s\n", p.HotWaterConsumption, p.HotWaterRate.StringFixed(money), p.HotWaterAmount.StringFixed(money))
				fmt.Fprintf(w, "Cold water\t%d m³ × %s = %s\n", p.ColdWaterConsumption, p.ColdWaterRate.StringFixed(money), p.ColdWaterAmount.StringFixed(money))
				fmt.Fprintf(w, "Wastewater\t%d m³ × %s = %s\n", p.WastewaterConsumption, p.WastewaterRate.StringFixed(money), p.WastewaterAmount.StringFixed(money))
				fmt.Fprintf(w, "Total\t%s\n", p.TotalAmount.StringFixed(money))
				fmt.Fprintf(w, "Calculated\t%s\n", p.CalculatedAt.Format(time.RFC3339))
				if p.Notes != "" {
					fmt.Fprintf(w, "Note\t%s\n", p.Notes)
				}
			})
		},
	}

	var summaryYear int
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Totals and monthly average for a year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("year") {
				summaryYear = a.clock.Now().Year()
			}
			s, err := a.payments.Summarize(cmd.Context(), summaryYear)
			if err != nil {
				return err
			}
			return a.print(s, func(w io.Writer) {
				fmt.Fprintf(w, "Year\t%d\n", s.Year)
				fmt.Fprintf(w, "Payments\t%d\n", s.Count)
				fmt.Fprintf(w, "Hot water\t%d m³\n", s.TotalHot)
				fmt.Fprintf(w, "Cold water\t%d m³\n", s.TotalCold)
				fmt.Fprintf(w, "Wastewater\t%d m³\n", s.TotalWastewater)
				fmt.Fprintf(w, "Total\t%s\n", s.TotalAmount.StringFixed(money))
				fmt.Fprintf(w, "Monthly average\t%s\n", s.AverageMonthly.StringFixed(money))
			})
		},
	}
	summary.Flags().IntVar(&summaryYear, "year", 0, "year, default current")

	cmd.AddCommand(list, show, summary)
	return cmd
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lims/patient/pkg/ymd"
)

func ageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "age",
		Short: "Convert between ages and birth dates",
	}

	birthdateCmd := &cobra.Command{
		Use:   "birthdate",
		Short: "Print the birth date of someone of the given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			period, _ := cmd.Flags().GetString("ymd")
			on, _ := cmd.Flags().GetString("on")
			return printBirthDate(cmd.OutOrStdout(), period, on)
		},
	}
	birthdateCmd.Flags().String("ymd", "", "Age in ymd notation, e.g. 2y6m")
	birthdateCmd.Flags().String("on", "", "Date the age was reached on (default today)")
	cmd.AddCommand(birthdateCmd)

	ymdCmd := &cobra.Command{
		Use:   "ymd",
		Short: "Print the age of someone born on the given date",
		RunE: func(cmd *cobra.Command, args []string) error {
			birth, _ := cmd.Flags().GetString("birthdate")
			on, _ := cmd.Flags().GetString("on")
			return printAge(cmd.OutOrStdout(), birth, on)
		},
	}
	ymdCmd.Flags().String("birthdate", "", "Date of birth")
	ymdCmd.Flags().String("on", "", "Date to compute the age on (default today)")
	cmd.AddCommand(ymdCmd)

	return cmd
}

// onFlag reads the --on flag. Empty means now.
func onFlag(on string) (time.Time, error) {
	if on == "" {
		return time.Now(), nil
	}
	t, ok := ymd.ToDatetime(on, nil, time.Local)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: --on %q", ymd.ErrType, on)
	}
	return t, nil
}

func printBirthDate(out io.Writer, period, on string) error {
	if !ymd.IsYmd(period) {
		return fmt.Errorf("--ymd must look like 1y2m3d, got %q", period)
	}
	when, err := onFlag(on)
	if err != nil {
		return err
	}
	dob, err := ymd.GetBirthDate(period, when)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, dob.Format("2006-01-02"))
	return nil
}

func printAge(out io.Writer, birth, on string) error {
	when, err := onFlag(on)
	if err != nil {
		return err
	}
	b, ok := ymd.ToDatetime(birth, nil, time.Local)
	if !ok {
		return fmt.Errorf("%w: --birthdate %q", ymd.ErrType, birth)
	}
	age, err := ymd.GetAgeYmd(b, when)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, age)
	return nil
}

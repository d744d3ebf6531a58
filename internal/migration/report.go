package migration

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// Op 迁移命令
type Op string

const (
	OpUp      Op = "up"
	OpDown    Op = "down"
	OpDownAll Op = "down-all"
	OpSteps   Op = "steps"
	OpGoto    Op = "goto"
	OpForce   Op = "force"
	OpVersion Op = "version"
	OpStatus  Op = "status"
	OpInfo    Op = "info"
)

// Command 一条迁移命令；Arg 供 steps/goto/force 使用
type Command struct {
	Op  Op
	Arg int
}

// Run 执行 cmd 并把结果以人类可读格式写到 w。
func Run(ctx context.Context, m *Migrator, cmd Command, w io.Writer) error {
	switch cmd.Op {
	case OpUp:
		fmt.Fprintln(w, "Applying pending migrations...")
		if err := m.Up(ctx); err != nil {
			return err
		}
	case OpDown:
		fmt.Fprintln(w, "Rolling back the last migration...")
		if err := m.Down(ctx, false); err != nil {
			return err
		}
	case OpDownAll:
		fmt.Fprintln(w, "Rolling back all migrations...")
		if err := m.Down(ctx, true); err != nil {
			return err
		}
	case OpSteps:
		fmt.Fprintf(w, "Moving %+d step(s)...\n", cmd.Arg)
		if err := m.Steps(ctx, cmd.Arg); err != nil {
			return err
		}
	case OpGoto:
		if cmd.Arg < 0 {
			return fmt.Errorf("goto needs a non-negative version, got %d", cmd.Arg)
		}
		fmt.Fprintf(w, "Migrating to version %d...\n", cmd.Arg)
		if err := m.Goto(ctx, uint(cmd.Arg)); err != nil {
			return err
		}
	case OpForce:
		if err := m.Force(cmd.Arg); err != nil {
			return err
		}
	case OpVersion:
		return printVersion(m, w)
	case OpStatus:
		return printStatus(m, w)
	case OpInfo:
		return printInfo(m, w)
	default:
		return fmt.Errorf("unknown migrate command %q", cmd.Op)
	}
	return printVersion(m, w)
}

func printVersion(m *Migrator, w io.Writer) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	switch {
	case v == 0 && !dirty:
		fmt.Fprintln(w, "No migrations applied.")
	case dirty:
		fmt.Fprintf(w, "Current version: %d (dirty)\n", v)
	default:
		fmt.Fprintf(w, "Current version: %d\n", v)
	}
	return nil
}

func printStatus(m *Migrator, w io.Writer) error {
	st, err := m.State()
	if err != nil {
		return err
	}
	if len(st.Migrations) == 0 {
		fmt.Fprintln(w, "No migrations embedded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS")
	for _, s := range st.Migrations {
		label := "pending"
		switch {
		case s.Dirty:
			label = "dirty"
		case s.Applied:
			label = "applied"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, label)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d applied, %d pending\n", st.Applied, st.Pending)
	return nil
}

func printInfo(m *Migrator, w io.Writer) error {
	st, err := m.State()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "dialect:  %s\n", m.dialect)
	fmt.Fprintf(w, "version:  %d\n", st.Version)
	fmt.Fprintf(w, "dirty:    %t\n", st.Dirty)
	fmt.Fprintf(w, "total:    %d\n", len(st.Migrations))
	fmt.Fprintf(w, "applied:  %d\n", st.Applied)
	fmt.Fprintf(w, "pending:  %d\n", st.Pending)
	return nil
}

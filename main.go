package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"taskgate/admission"
	"taskgate/config"
	"taskgate/log"
)

var (
	version = "1.0.0"

	capacityFlag int
	retryFlag    int

	rootCmd = &cobra.Command{
		Use:   "taskgate \"command\" [\"command\" ...]",
		Short: "Taskgate - run shell commands under a bounded admission controller",
		Long: "Taskgate runs each given shell command as a child process, capping how many\n" +
			"run at once. Capacity is reclaimed automatically when a child exits, even if\n" +
			"it crashes: every child is tracked through a liveness watch rather than\n" +
			"through cooperative cleanup.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()
			if log.IsDebugEnabled() {
				fmt.Println(dimStyle.Render("debug logging to " + log.LogFileName()))
			}

			cfg := config.LoadConfig()
			capacity := cfg.DefaultCapacity
			if capacityFlag > 0 {
				capacity = capacityFlag
			}
			retry := cfg.RetryInterval()
			if retryFlag > 0 {
				retry = time.Duration(retryFlag) * time.Millisecond
			}

			return runAll(args, capacity, retry)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of taskgate",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskgate version %s\n", version)
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration and its location",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()

			configDir, err := config.GetConfigDir()
			if err != nil {
				return err
			}
			cfg := config.LoadConfig()
			fmt.Printf("config dir:        %s\n", configDir)
			fmt.Printf("default capacity:  %d\n", cfg.DefaultCapacity)
			fmt.Printf("retry interval:    %s\n", cfg.RetryInterval())
			fmt.Printf("heartbeat timeout: %s\n", cfg.HeartbeatTimeout())
			fmt.Printf("log file:          %s\n", log.LogFileName())
			return nil
		},
	}
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type result struct {
	command string
	err     error
}

// runAll executes every command under a single admission controller.
// Submitters retry rejected admissions on an interval; the controller
// itself never queues them.
func runAll(commands []string, capacity int, retry time.Duration) error {
	ctrl, err := admission.Start(capacity)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	results := make(chan result, len(commands))
	for i, command := range commands {
		go func(i int, command string) {
			results <- runOne(ctrl, i, command, retry)
		}(i, command)
	}

	failures := 0
	for range commands {
		res := <-results
		if res.err != nil {
			failures++
			fmt.Printf("%s %s (%v)\n", failStyle.Render("fail"), res.command, res.err)
		} else {
			fmt.Printf("%s %s\n", okStyle.Render("ok  "), res.command)
		}
	}

	stats := ctrl.Stats()
	fmt.Println(dimStyle.Render(fmt.Sprintf(
		"%d of %d succeeded, peak concurrency %d, %d rejected admissions retried",
		len(commands)-failures, len(commands), stats.Peak, stats.Rejected)))

	if failures > 0 {
		return fmt.Errorf("%d of %d commands failed", failures, len(commands))
	}
	return nil
}

// runOne admits a submission handle, starts the child process, hands the
// lease over to the process worker and waits for the process to exit. The
// lease is reclaimed by the controller when the process dies.
func runOne(ctrl *admission.Controller, i int, command string, retry time.Duration) result {
	handle := admission.NewTaskHandle(fmt.Sprintf("submit-%d", i))

	var lease admission.LeaseID
	for {
		var err error
		lease, err = ctrl.Admit(handle)
		if err == nil {
			break
		}
		if !errors.Is(err, admission.ErrLimitReached) {
			handle.Finish()
			return result{command: command, err: err}
		}
		time.Sleep(retry)
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ctrl.Release(lease)
		handle.Finish()
		return result{command: command, err: err}
	}

	worker, err := admission.WatchProcess(cmd)
	if err != nil {
		ctrl.Release(lease)
		handle.Finish()
		return result{command: command, err: err}
	}

	// The process now carries the lease; retiring the submission handle
	// leaves the lease open on the process worker alone.
	if err := ctrl.BindWorker(lease, worker); err != nil {
		ctrl.Release(lease)
		handle.Finish()
		return result{command: command, err: err}
	}
	handle.Finish()

	<-worker.Done()
	return result{command: command, err: worker.Err()}
}

func init() {
	rootCmd.Flags().IntVarP(&capacityFlag, "capacity", "n", 0,
		"Maximum number of commands running at once (defaults to the configured capacity)")
	rootCmd.Flags().IntVar(&retryFlag, "retry-ms", 0,
		"Milliseconds to wait before retrying a rejected admission")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

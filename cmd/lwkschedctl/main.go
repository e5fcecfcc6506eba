// Command lwkschedctl is the lwkschedd control client: it stages
// clone hints, triggers a yield, pushes boot/yod configuration, and
// prints the list/stats surface, the way perflock's client subcommands
// talk to its own daemon over a unix socket.
package main

import (
	"flag"
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-socket path] list\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-socket path] stats [-cpu N]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-socket path] yield -pid N -cpu N\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-socket path] config -pid N -file doc.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-socket path] config -pid N -get\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-socket path] clone-attr -pid N [-exclusive] [-same-l3] [-nodes N,M]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-socket path] register -pid N -lwk-cpus 0,1 -shared-util 2,3\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-socket path] fork -caller-pid N -child-pid N [-same-thread-group]\n", os.Args[0])
}

func main() {
	flagSocket := flag.String("socket", "/run/lwkschedd.sock", "connect to the daemon's control socket at `path`")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := NewClient(*flagSocket)
	defer c.Close()

	switch args[0] {
	case "list":
		runList(c)
	case "stats":
		runStats(c, args[1:])
	case "yield":
		runYield(c, args[1:])
	case "config":
		runConfig(c, args[1:])
	case "clone-attr":
		runCloneAttr(c, args[1:])
	case "register":
		runRegister(c, args[1:])
	case "fork":
		runFork(c, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func runList(c *Client) {
	resp := c.List()
	fmt.Printf("%-8s %-24s %s\n", "PID", "LWK CPUS", "UTIL THREADS")
	for _, p := range resp.Processes {
		fmt.Printf("%-8d %-24v %d\n", p.PID, p.LWKCPUs, p.NumUtil)
	}
}

func runStats(c *Client, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cpu := fs.Int("cpu", -1, "CPU to report, or -1 for all")
	fs.Parse(args)

	resp := c.Stats(*cpu)
	for _, s := range resp.CPUs {
		fmt.Printf("cpu%d: compute=%d utility=%d max_compute=%d max_utility=%d pushes=%d setaffinity=%d ticks=%d guests=%d guest_dispatches=%d givebacks=%d\n",
			s.CPU, s.ComputeCommits, s.UtilityCommits, s.MaxComputeDepth, s.MaxUtilityDepth,
			s.PushCount, s.SetaffinityCount, s.TimerTicks, s.Guests, s.GuestDispatches, s.Givebacks)
	}
}

func runYield(c *Client, args []string) {
	fs := flag.NewFlagSet("yield", flag.ExitOnError)
	pid := fs.Int("pid", 0, "calling thread's pid")
	cpu := fs.Int("cpu", 0, "calling thread's current CPU")
	fs.Parse(args)

	resp := c.Yield(*pid, *cpu)
	if resp.Rescheduled {
		fmt.Println("rescheduled")
	} else {
		fmt.Println("ok")
	}
}

func runRegister(c *Client, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	pid := fs.Int("pid", 0, "pid to register as an LWK process")
	lwkCPUs := fs.String("lwk-cpus", "", "comma-separated LWK CPU ids")
	sharedUtil := fs.String("shared-util", "", "comma-separated shared-utility CPU ids")
	fs.Parse(args)

	if *pid == 0 {
		fmt.Fprintln(os.Stderr, "register: -pid is required")
		os.Exit(2)
	}
	lwk, err := parseIntList(*lwkCPUs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "register: -lwk-cpus:", err)
		os.Exit(2)
	}
	util, err := parseIntList(*sharedUtil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "register: -shared-util:", err)
		os.Exit(2)
	}

	resp := c.RegisterProcess(*pid, lwk, util)
	if resp.Err != "" {
		fmt.Fprintf(os.Stderr, "register failed: %s\n", resp.Err)
		os.Exit(1)
	}
	fmt.Printf("registered pid=%d lwk_cpus=%v num_util=%d\n", resp.Summary.PID, resp.Summary.LWKCPUs, resp.Summary.NumUtil)
}

func runFork(c *Client, args []string) {
	fs := flag.NewFlagSet("fork", flag.ExitOnError)
	callerPID := fs.Int("caller-pid", 0, "pid of the forking thread")
	childPID := fs.Int("child-pid", 0, "pid of the new thread")
	sameThreadGroup := fs.Bool("same-thread-group", true, "whether the child shares the caller's thread group (clone vs fork)")
	fs.Parse(args)

	if *callerPID == 0 || *childPID == 0 {
		fmt.Fprintln(os.Stderr, "fork: -caller-pid and -child-pid are required")
		os.Exit(2)
	}

	resp := c.Fork(*callerPID, *childPID, *sameThreadGroup)
	if resp.Err != "" {
		fmt.Fprintf(os.Stderr, "fork failed: %s\n", resp.Err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func runConfig(c *Client, args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	pid := fs.Int("pid", 0, "target pid, or 0 for the daemon-wide default policy")
	file := fs.String("file", "", "path to a YAML boot/yod config document")
	get := fs.Bool("get", false, "read back the effective policy instead of setting it")
	fs.Parse(args)

	if *get {
		resp := c.ConfigGet(*pid)
		if resp.Err != "" {
			fmt.Fprintf(os.Stderr, "config get failed: %s\n", resp.Err)
			os.Exit(1)
		}
		os.Stdout.Write(resp.YAML)
		return
	}

	if *file == "" {
		fmt.Fprintln(os.Stderr, "config: -file is required")
		os.Exit(2)
	}
	doc, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	resp := c.ConfigSet(*pid, doc)
	if resp.Err != "" {
		fmt.Fprintf(os.Stderr, "config rejected: %s\n", resp.Err)
		os.Exit(1)
	}
}

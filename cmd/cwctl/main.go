package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/morsekit/cwd/pkg/client"
	"github.com/morsekit/cwd/pkg/verbose"
)

var (
	socketPath  = flag.String("socket", "/tmp/cwd.sock", "Unix socket path")
	command     = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'SEND:CQ CQ DE SP8NTH')")
	verboseFlag = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()
	verbose.SetEnabled(*verboseFlag)

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	c := client.NewSocketClient(*socketPath)

	verbose.Printf("sending %q to %s", *command, *socketPath)
	response, err := c.SendCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", response.String())
	if !response.Success {
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println("cwctl - CW Daemon Control Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/cwd.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println("  -v                Verbose output")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                    Get daemon status")
	fmt.Println("  SEND:<text>               Queue text for transmission")
	fmt.Println("  SPEED:<wpm>               Set transmit speed")
	fmt.Println("  SPEED:rx:<wpm>            Set fixed receive speed")
	fmt.Println("  SPEED:rx:adaptive         Enable adaptive receive speed")
	fmt.Println("  FREQUENCY:<hz>            Set sidetone frequency")
	fmt.Println("  VOLUME:<percent>          Set sidetone volume")
	fmt.Println("  GAP:<units>               Set extra inter-character gap")
	fmt.Println("  WEIGHTING:<percent>       Set dot weighting")
	fmt.Println("  TOLERANCE:<percent>       Set receive timing tolerance")
	fmt.Println("  MODE:<a|b>                Set iambic keyer mode")
	fmt.Println("  KEY:<dot|dash|straight>:<down|up>  Report a key event")
	fmt.Println("  HALT                      Abort transmission")
	fmt.Println("  STATS                     Get receive timing statistics")
	fmt.Println("  SESSIONS:<limit>          Get recent session history")
	fmt.Println("  PING                      Test connection")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s 'SEND:CQ CQ DE SP8NTH'\n", os.Args[0])
	fmt.Printf("  %s SPEED:25\n", os.Args[0])
	fmt.Printf("  echo 'STATUS' | nc -U /tmp/cwd.sock\n")
}

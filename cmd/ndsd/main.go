// Command ndsd is the per-session supervisor process. It is never invoked
// directly by a user; `nds new` forks and detaches one ndsd per session,
// passing the session root and id it already reserved on disk.
package main

import (
	"flag"
	"log"
	"os"
	"syscall"

	"github.com/ianremillard/nds/internal/config"
	"github.com/ianremillard/nds/internal/session"
	"github.com/ianremillard/nds/internal/supervisor"
)

func main() {
	root := flag.String("root", "", "session directory root")
	id := flag.String("id", "", "session id, already reserved by `nds new`")
	flag.Parse()

	if *root == "" || *id == "" {
		log.Fatal("ndsd: -root and -id are required")
	}

	log.SetFlags(0)
	log.SetPrefix("ndsd[" + *id + "]: ")

	// A new session leader detaches ndsd from the invoking terminal's
	// process group, so a later SIGHUP to that terminal (the user's shell
	// exiting) never reaches the supervisor or the session it is keeping
	// alive (§4.1 step 1).
	if _, err := syscall.Setsid(); err != nil {
		log.Printf("setsid: %v (continuing; may already be a session leader)", err)
	}

	paths := session.PathsFor(*root, *id)
	meta, err := session.ReadMeta(paths.Meta)
	if err != nil {
		log.Fatalf("read reserved session metadata: %v", err)
	}

	cfg, err := config.Load(*root)
	if err != nil {
		log.Printf("load config: %v (using defaults)", err)
	}

	sup := supervisor.New(*root, *id, meta, cfg)
	code, err := sup.Run()
	if err != nil {
		log.Printf("run: %v", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// Command pool-server serves a shared opponent pool over HTTP for
// rollout workers and the learner.
package main

import (
	"flag"
	"net/http"

	"github.com/golang/glog"

	selfplay "github.com/rlworks/go-selfplay"
	"github.com/rlworks/go-selfplay/ldbstore"
	"github.com/rlworks/go-selfplay/memstore"
	"github.com/rlworks/go-selfplay/poolhttp"
	"github.com/rlworks/go-selfplay/rdbstore"
)

func main() {
	addr := flag.String("addr", ":9100", "Address to listen on")
	backend := flag.String("backend", "mem", "Store backend: mem, leveldb or rocksdb")
	dbPath := flag.String("db", "pool.db", "Database path for disk-backed backends")
	flag.Parse()
	defer glog.Flush()

	var store selfplay.PoolStore
	switch *backend {
	case "mem":
		store = memstore.New()
	case "leveldb":
		ldb, err := ldbstore.New(*dbPath, nil)
		if err != nil {
			glog.Exit(err)
		}
		defer ldb.Close()
		store = ldb
	case "rocksdb":
		params := rdbstore.DefaultParams(*dbPath)
		defer params.Close()
		rdb, err := rdbstore.New(params)
		if err != nil {
			glog.Exit(err)
		}
		defer rdb.Close()
		store = rdb
	default:
		glog.Exitf("unknown backend %q", *backend)
	}

	glog.Infof("pool server listening on %s (backend=%s)", *addr, *backend)
	glog.Exit(http.ListenAndServe(*addr, poolhttp.NewServer(store)))
}

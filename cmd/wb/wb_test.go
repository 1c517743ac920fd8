package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmdtest"
	"github.com/pkg/fileutils"
)

var update = flag.Bool("update", false, "update test files with results")

func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte((i*7 + 3) % 251)
	}
	return buf
}

// gateway answers the read-only endpoints the CLI tests use.
func gateway() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		switch {
		case path == "info":
			fmt.Fprint(w, `{"network":"arweave.N.1","height":42,"current":"curblock","peers":7}`)
		case path == "peers":
			fmt.Fprint(w, `["10.0.0.1:1984","10.0.0.2:1984"]`)
		case path == "price/1000":
			fmt.Fprint(w, "1500000000000")
		case path == "price/1000/dGFyZ2V0":
			fmt.Fprint(w, "1500000000001")
		case strings.HasPrefix(path, "wallet/") && strings.HasSuffix(path, "/balance"):
			fmt.Fprint(w, "123450000000000")
		case path == "tx/mined/status":
			fmt.Fprint(w, `{"block_indep_hash":"curblock","block_height":42,"number_of_confirmations":3}`)
		case path == "block/height/42" || path == "block/hash/curblock":
			fmt.Fprint(w, `{"indep_hash":"curblock","height":42}`)
		case strings.HasSuffix(path, "/status"):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"not_found"}`)
		}
	}))
}

func TestCLI(t *testing.T) {
	ts, err := cmdtest.Read("testdata")
	if err != nil {
		t.Fatal(err)
	}
	srv := gateway()
	defer srv.Close()
	os.Setenv("WEAVEBASE_HOSTS", srv.URL)
	os.Setenv("WEAVEBASE_CONFIG", "")
	defer os.Unsetenv("WEAVEBASE_HOSTS")

	srcdir, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	ts.Setup = func(dir string) (err error) {
		for _, fn := range []string{"wallet.json", "signed_v2_tx.json"} {
			err = fileutils.CopyFile(filepath.Join(dir, fn), filepath.Join(srcdir, "../../testdata", fn))
			if err != nil {
				return
			}
		}
		err = ioutil.WriteFile(filepath.Join(dir, "data.bin"), pattern(600000), 0644)
		if err != nil {
			return
		}
		err = ioutil.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world\n"), 0644)
		if err != nil {
			return
		}
		// a signed transaction whose reward was changed afterwards
		buf, err := ioutil.ReadFile(filepath.Join(dir, "signed_v2_tx.json"))
		if err != nil {
			return
		}
		tampered := strings.Replace(string(buf), `"reward": "`, `"reward": "1`, 1)
		return ioutil.WriteFile(filepath.Join(dir, "tampered.json"), []byte(tampered), 0644)
	}
	ts.Commands["wb"] = cmdtest.InProcessProgram("wb", run)
	ts.Run(t, *update)
}

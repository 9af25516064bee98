// docgen writes docs/api.adoc from the @Route annotations in internal/api
// and docs/wire.adoc from the codec catalog and the program error table.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"vaultbridge.mini/vb/internal/bridge"
	"vaultbridge.mini/vb/internal/codec"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := flag.String("api", "internal/api", "directory holding annotated handlers")
	outDir := flag.String("out", "docs", "output directory")
	flag.Parse()

	endpoints, err := scanEndpoints(*apiDir)
	if err != nil {
		log.Fatalf("scan %s: %v", *apiDir, err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}
	if err := writeFile(filepath.Join(*outDir, "api.adoc"), func(w io.Writer) error {
		return writeAPI(w, endpoints)
	}); err != nil {
		log.Fatal(err)
	}
	if err := writeFile(filepath.Join(*outDir, "wire.adoc"), writeWire); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Generated %s/api.adoc (%d routes) and %s/wire.adoc\n", *outDir, len(endpoints), *outDir)
}

func scanEndpoints(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		found, err := scanFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, found...)
	}
	sort.SliceStable(endpoints, func(i, j int) bool {
		return routePath(endpoints[i].Route) < routePath(endpoints[j].Route)
	})
	return endpoints, nil
}

func scanFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseEndpoints(f)
}

// parseEndpoints reads annotation blocks. @Response closes a block.
func parseEndpoints(r io.Reader) ([]Endpoint, error) {
	var endpoints []Endpoint
	var current Endpoint
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func routePath(route string) string {
	if i := strings.IndexByte(route, ' '); i >= 0 {
		return route[i+1:]
	}
	return route
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeAPI(w io.Writer, endpoints []Endpoint) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "= HTTP API")
	fmt.Fprintln(bw, ":toc:")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Generated by `go run ./cmd/docgen` from handler annotations. Do not edit.")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "[cols=\"2,3,3\"]")
	fmt.Fprintln(bw, "|===")
	fmt.Fprintln(bw, "|Route |Description |Response")
	for _, ep := range endpoints {
		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "|`%s`\n|%s\n|%s\n", ep.Route, cell(ep.Description), cell(ep.Response))
	}
	fmt.Fprintln(bw, "|===")
	return bw.Flush()
}

func writeWire(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "= Wire Contract")
	fmt.Fprintln(bw, ":toc:")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Generated by `go run ./cmd/docgen` from the codec catalog. Do not edit.")
	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "Instruction data is an 8-byte selector, the first 8 bytes of\n"+
		"`sha256(\"%s:<method>\")`, followed by the Borsh-encoded arguments.\n", codec.SelectorNamespace)

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "== Methods")
	for _, m := range codec.Catalog {
		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "=== %s\n\n", m.Name)
		fmt.Fprintf(bw, "Selector:: `%s`\n", m.Selector())
		fmt.Fprintf(bw, "Role:: %s\n", m.Role)
		fmt.Fprintf(bw, "Event:: `%s`\n", m.Event)
		fmt.Fprintf(bw, "Arguments:: %s\n\n", args(m.Args))

		fmt.Fprintln(bw, "[cols=\"1,3,1,1,1\"]")
		fmt.Fprintln(bw, "|===")
		fmt.Fprintln(bw, "|# |Account |Writable |Signer |Optional")
		for i, a := range m.Accounts {
			fmt.Fprintf(bw, "|%d |%s |%s |%s |%s\n", i, a.Name, yes(a.Writable), yes(a.Signer), yes(a.Optional))
		}
		fmt.Fprintln(bw, "|===")
	}

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "== Errors")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "The response code of a failed transaction is the error code.")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "[cols=\"1,2,4\"]")
	fmt.Fprintln(bw, "|===")
	fmt.Fprintln(bw, "|Code |Name |Meaning")
	for _, e := range bridge.Errors {
		fmt.Fprintf(bw, "|%d |%s |%s\n", e.Code, e.Name, cell(e.Msg))
	}
	fmt.Fprintln(bw, "|===")
	return bw.Flush()
}

func args(specs []codec.ArgSpec) string {
	if len(specs) == 0 {
		return "none"
	}
	parts := make([]string, len(specs))
	for i, a := range specs {
		parts[i] = fmt.Sprintf("`%s: %s`", a.Name, a.Type)
	}
	return strings.Join(parts, ", ")
}

func yes(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

// cell escapes the table separator.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// clrdump is a small front-end that loads a CLI metadata image and prints
// assembly, table, type and method summaries using only exported clrmeta
// identifiers — the "front-end that walks a user-constructed model" kept
// outside the core module path (spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/clrforge/clrmeta"
	"github.com/clrforge/clrmeta/mdlog"
)

func main() {
	app := &cli.App{
		Name:  "clrdump",
		Usage: "inspect a CLI metadata image",
		Commands: []*cli.Command{
			dumpCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "clrdump: %v\n", err)
		os.Exit(1)
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "load an assembly and print table/method summaries",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug-level logging from the load pipeline"},
			&cli.BoolFlag{Name: "everett-compat", Usage: "accept the historical Everett ilasm module-scope glitch instead of rejecting it"},
			&cli.BoolFlag{Name: "instructions", Aliases: []string{"i"}, Usage: "also print every method's instruction and exception-clause counts"},
		},
		Action: runDump,
	}
}

func runDump(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("dump requires a file argument")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := clrmeta.Options{
		StrictEverettCompat: c.Bool("everett-compat"),
		Log:                 mdlog.New(c.Bool("verbose")),
	}
	defer opts.Log.Sync()

	asm, err := clrmeta.Load(f, opts)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	printSummary(asm, c.Bool("instructions"))
	return nil
}

func printSummary(a *clrmeta.Assembly, withInstructions bool) {
	fmt.Printf("Assembly: %s %d.%d.%d.%d\n", a.Name, a.Version.Major, a.Version.Minor, a.Version.Build, a.Version.Revision)
	if a.Module != nil {
		fmt.Printf("Module:   %s\n", a.Module.Name)
	}
	if a.EntryPoint != nil {
		fmt.Printf("Entry point: %s (token %#x)\n", a.EntryPoint.Name, uint32(a.EntryPoint.Token()))
	}

	fmt.Println()
	fmt.Println("Tables:")
	fmt.Printf("  AssemblyRef        %d\n", len(a.AssemblyRefs))
	fmt.Printf("  TypeRef            %d\n", len(a.TypeRefs))
	fmt.Printf("  TypeDef (top-level) %d\n", len(a.TypeDefs))
	fmt.Printf("  MemberRef          %d\n", len(a.MemberRefs))
	fmt.Printf("  StandAloneSig      %d\n", len(a.StandAloneSigs))
	fmt.Printf("  File               %d\n", len(a.Files))
	fmt.Printf("  ExportedType       %d\n", len(a.ExportedTypes))
	fmt.Printf("  ManifestResource   %d\n", len(a.ManifestResources))

	var totalTypes, totalMethods int
	walkTypes(a.TypeDefs, func(c *clrmeta.ClassDef) {
		totalTypes++
		totalMethods += len(c.Methods)
	})
	fmt.Println()
	fmt.Printf("Types (including nested): %d\n", totalTypes)
	fmt.Printf("Methods:                  %d\n", totalMethods)

	if !withInstructions {
		return
	}

	fmt.Println()
	fmt.Println("Methods:")
	walkTypes(a.TypeDefs, func(c *clrmeta.ClassDef) {
		for _, m := range c.Methods {
			instrCount, clauseCount := 0, 0
			if m.Body != nil && m.Body.IL != nil {
				instrCount = len(m.Body.IL.Instructions)
				clauseCount = len(m.Body.IL.Clauses)
			}
			fmt.Printf("  %s::%s  instructions=%d clauses=%d\n", c.FullName(), m.Name, instrCount, clauseCount)
		}
	})
}

// walkTypes mirrors the root package's own allClasses tree walk, but
// clrdump can only see exported fields so it re-implements the descent
// rather than importing the unexported helper.
func walkTypes(classes []*clrmeta.ClassDef, fn func(*clrmeta.ClassDef)) {
	for _, c := range classes {
		fn(c)
		walkTypes(c.Nested, fn)
	}
}

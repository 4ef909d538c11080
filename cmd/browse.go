package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/ShoshinNikita/recipebox/images"
	"github.com/ShoshinNikita/recipebox/pkg/cache"
	"github.com/ShoshinNikita/recipebox/pkg/misc"
	"github.com/ShoshinNikita/recipebox/recipebox"
	"github.com/ShoshinNikita/recipebox/recipes"
	"github.com/ShoshinNikita/recipebox/search"
)

func newBrowseCommand(cfg *recipebox.Config) *cobra.Command {
	var rows int

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Search recipes interactively",
		Long: "" +
			"Search recipes interactively. The first --rows matches are shown as rows of a list,\n" +
			"photos of the rows are loaded in the background. Type :help for commands.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rows < 1 {
				return errors.New("rows must be >= 1")
			}

			return withApp(*cfg, func(app *App) error {
				allRecipes, err := app.recipesClient.GetRecipes(cmd.Context())
				if err != nil && !errors.Is(err, recipes.ErrEmptyList) {
					return fmt.Errorf("couldn't load recipes: %w", err)
				}

				b := newBrowser(cmd.OutOrStdout(), allRecipes, app.registry, app.loader, rows)
				return b.Run()
			})
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 10, "Number of list rows. Each row loads at most one photo at a time")

	return cmd
}

type cacheManager interface {
	ClearMemoryCache()
	ClearDiskCache()
	ClearAllCache()
	Sweep(maxAge time.Duration) (cache.SweepStats, error)
}

// browser imitates a scrolling list of recipes: rows are reused for new search
// results, so every row is bound to its own slot.
type browser struct {
	out      io.Writer
	recipes  []recipebox.Recipe
	registry *images.Registry
	caches   cacheManager
	rows     int

	cuisine string

	mu    sync.Mutex
	state []rowState
}

type rowState struct {
	recipe recipebox.Recipe
	url    string
	status string
}

func newBrowser(out io.Writer, recipes []recipebox.Recipe, registry *images.Registry, caches cacheManager, rows int) *browser {
	return &browser{
		out:      out,
		recipes:  recipes,
		registry: registry,
		caches:   caches,
		rows:     rows,
	}
}

func historyFile() string {
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".recipebox_history")
}

func (b *browser) Run() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(b.complete)

	if f, err := os.Open(historyFile()); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if path := historyFile(); path != "" {
			if f, err := os.Create(path); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}
	}()

	fmt.Fprintf(b.out, "%d recipes loaded. Type a search query or :help for commands.\n", len(b.recipes))

	for {
		input, err := line.Prompt("recipes> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("couldn't read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if quit := b.handle(input); quit {
			return nil
		}
	}
}

var browserCommands = []string{":help", ":list", ":rows", ":cuisine", ":cuisines", ":clear", ":sweep", ":q"}

func (b *browser) complete(input string) (res []string) {
	for _, c := range browserCommands {
		if strings.HasPrefix(c, input) {
			res = append(res, c)
		}
	}
	return res
}

// handle executes a command or a search query. It returns true if the user wants to quit.
func (b *browser) handle(input string) (quit bool) {
	if !strings.HasPrefix(input, ":") {
		b.search(input)
		return false
	}

	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case ":q", ":quit", ":exit":
		return true

	case ":help":
		fmt.Fprint(b.out, ""+
			"  <query>           search recipes by name and cuisine: \"exact phrase\", -exclude\n"+
			"  :list             show all recipes\n"+
			"  :rows             show rows and the state of their photos\n"+
			"  :cuisine [name]   filter recipes by cuisine, without name the filter is reset\n"+
			"  :cuisines         show all cuisines\n"+
			"  :clear [tier]     clear image cache: memory, disk or all (default)\n"+
			"  :sweep [max-age]  remove images older than max-age from disk cache (default 168h)\n"+
			"  :q                quit\n",
		)

	case ":list":
		b.search("")

	case ":rows":
		b.printRows()

	case ":cuisine":
		b.cuisine = strings.Join(args, " ")
		if b.cuisine == "" {
			fmt.Fprintln(b.out, "cuisine filter is reset")
		} else {
			fmt.Fprintf(b.out, "cuisine filter: %q\n", b.cuisine)
		}

	case ":cuisines":
		fmt.Fprintln(b.out, strings.Join(search.Cuisines(b.recipes), ", "))

	case ":clear":
		tier := "all"
		if len(args) > 0 {
			tier = args[0]
		}
		switch tier {
		case "memory":
			b.caches.ClearMemoryCache()
		case "disk":
			b.caches.ClearDiskCache()
		case "all":
			b.caches.ClearAllCache()
		default:
			fmt.Fprintf(b.out, "invalid tier %q, valid values: memory, disk, all\n", tier)
			return false
		}
		fmt.Fprintf(b.out, "%s cache was cleared\n", tier)

	case ":sweep":
		maxAge := recipebox.DefaultImageCacheMaxAge
		if len(args) > 0 {
			var err error
			maxAge, err = time.ParseDuration(args[0])
			if err != nil || maxAge < 0 {
				fmt.Fprintf(b.out, "invalid max age %q\n", args[0])
				return false
			}
		}
		stats, err := b.caches.Sweep(maxAge)
		if err != nil {
			fmt.Fprintf(b.out, "couldn't sweep image cache: %s\n", err)
			return false
		}
		fmt.Fprintf(b.out, "%d files were removed, %s freed\n", stats.RemovedFiles, misc.FormatFileSize(stats.FreedBytes))

	default:
		fmt.Fprintf(b.out, "unknown command %q, type :help for commands\n", cmd)
	}
	return false
}

// search shows the first rows of the matched recipes and requests their photos. Rows
// that are left without a recipe are released.
func (b *browser) search(query string) {
	found := search.Filter(b.recipes, query, b.cuisine)

	n := min(len(found), b.rows)

	b.mu.Lock()
	b.state = make([]rowState, n)
	for i := range n {
		b.state[i] = rowState{
			recipe: found[i],
			url:    found[i].PhotoURL(),
			status: "loading",
		}
	}
	b.mu.Unlock()

	for i := range n {
		slot := images.RowSlot(i)
		err := b.registry.RequestLoad(slot, found[i].PhotoURL(), b.newDeliverFn(i))
		if err != nil {
			fmt.Fprintf(b.out, "couldn't request photo for row %d: %s\n", i, err)
		}
	}
	for i := n; i < b.rows; i++ {
		b.registry.ReleaseSlot(images.RowSlot(i))
	}

	fmt.Fprintf(b.out, "%d of %d recipes match\n", len(found), len(b.recipes))
	b.printRows()
}

func (b *browser) newDeliverFn(row int) images.DeliverFn {
	return func(res images.Result) {
		b.mu.Lock()
		defer b.mu.Unlock()

		// The row could have been reused for a recipe with another photo.
		if row >= len(b.state) || b.state[row].url != res.URL {
			return
		}
		b.state[row].status = describeResult(res)
	}
}

func describeResult(res images.Result) string {
	if res.Err != nil {
		reason := "error"
		switch {
		case errors.Is(res.Err, recipebox.ErrInvalidURL):
			reason = "no photo"
		case errors.Is(res.Err, recipebox.ErrInvalidData):
			reason = "invalid image"
		case errors.Is(res.Err, recipebox.ErrNetwork):
			reason = "network error"
		}
		return "placeholder (" + reason + ")"
	}

	img := res.Image
	if img.Image == nil {
		return fmt.Sprintf("%s, %s", img.Format, misc.FormatFileSize(int64(len(img.Data))))
	}
	bounds := img.Bounds()
	return fmt.Sprintf("%s %dx%d, %s", img.Format, bounds.Dx(), bounds.Dy(), misc.FormatFileSize(int64(len(img.Data))))
}

func (b *browser) printRows() {
	b.mu.Lock()
	state := slices.Clone(b.state)
	b.mu.Unlock()

	if len(state) == 0 {
		fmt.Fprintln(b.out, "no rows")
		return
	}
	for i, row := range state {
		fmt.Fprintf(b.out, "%3d. %-40s %-12s %s\n", i, row.recipe.Name, row.recipe.Cuisine, row.status)
	}
	if inFlight := b.registry.InFlight(); inFlight > 0 {
		fmt.Fprintf(b.out, "loading %d photo(s)\n", inFlight)
	}
}

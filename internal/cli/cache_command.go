package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/temirov/ctxload/internal/cache"
	"github.com/temirov/ctxload/internal/utils"
)

const (
	cacheUse                   = "cache"
	cacheShortDescription      = "inspect and maintain the token cache"
	cacheStatsUse              = "stats [path]"
	cacheStatsShortDescription = "show token cache statistics for a workspace"
	cacheClearUse              = "clear [path]"
	cacheClearShortDescription = "remove every cached token count of a workspace"
	cachePruneUse              = "prune [path]"
	cachePruneShortDescription = "remove cached token counts not used recently"
	olderThanFlagName          = "older-than"
	olderThanFlagDescription   = "remove entries last used before this duration"
	defaultPruneAge            = 30 * 24 * time.Hour

	cacheWorkspaceFormat = "Workspace: %s\n"
	cacheDatabaseFormat  = "Database:  %s (%s)\n"
	cacheEntriesFormat   = "Entries:   %d\n"
	cacheKindFormat      = "  %s: %d\n"
	cacheLastSeenFormat  = "Last seen: %s\n"
	cacheClearedFormat   = "Cleared the token cache of %s\n"
	cachePrunedFormat    = "Pruned %d entries\n"
	errorCacheOpenFormat = "open token cache of %s: %s"
)

// newCacheCommand returns the cache command group.
func newCacheCommand(app *application) *cobra.Command {
	var cacheDirectory string

	cacheCommand := &cobra.Command{
		Use:   cacheUse,
		Short: cacheShortDescription,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}
	cacheCommand.PersistentFlags().StringVar(&cacheDirectory, cacheDirectoryFlagName, "", cacheDirectoryDescription)

	resolveDirectory := func(command *cobra.Command) string {
		if command.Flags().Changed(cacheDirectoryFlagName) {
			return cacheDirectory
		}
		return app.configuration.CacheDirectoryOrDefault()
	}

	statsCommand := &cobra.Command{
		Use:   cacheStatsUse,
		Short: cacheStatsShortDescription,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return app.withWorkspaceCache(command.Context(), resolveDirectory(command), arguments, func(root string, databasePath string, tokenCache *cache.Cache) error {
				app.writeCacheStats(root, databasePath, tokenCache.Entries())
				return nil
			})
		},
	}

	clearCommand := &cobra.Command{
		Use:   cacheClearUse,
		Short: cacheClearShortDescription,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return app.withWorkspaceCache(command.Context(), resolveDirectory(command), arguments, func(root string, databasePath string, tokenCache *cache.Cache) error {
				if clearError := tokenCache.Clear(command.Context()); clearError != nil {
					return clearError
				}
				fmt.Fprintf(app.stdout(), cacheClearedFormat, root)
				return nil
			})
		},
	}

	var olderThan time.Duration
	pruneCommand := &cobra.Command{
		Use:   cachePruneUse,
		Short: cachePruneShortDescription,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return app.withWorkspaceCache(command.Context(), resolveDirectory(command), arguments, func(root string, databasePath string, tokenCache *cache.Cache) error {
				pruned, pruneError := tokenCache.Prune(command.Context(), olderThan)
				if pruneError != nil {
					return pruneError
				}
				fmt.Fprintf(app.stdout(), cachePrunedFormat, pruned)
				return nil
			})
		},
	}
	pruneCommand.Flags().DurationVar(&olderThan, olderThanFlagName, defaultPruneAge, olderThanFlagDescription)

	cacheCommand.AddCommand(statsCommand, clearCommand, pruneCommand)
	return cacheCommand
}

// withWorkspaceCache opens the persistent cache of the workspace named by
// arguments, runs action and closes the cache.
func (app *application) withWorkspaceCache(ctx context.Context, cacheDirectory string, arguments []string, action func(root string, databasePath string, tokenCache *cache.Cache) error) error {
	root, rootError := resolveWorkspaceRoot(arguments)
	if rootError != nil {
		return rootError
	}
	tokenCache := cache.OpenWorkspace(ctx, cacheDirectory, root, cache.Options{Logger: app.logger})
	if !tokenCache.Persistent() {
		messages := make([]string, 0)
		for _, issue := range tokenCache.Issues() {
			messages = append(messages, issue.Message)
		}
		return fmt.Errorf(errorCacheOpenFormat, root, strings.Join(messages, "; "))
	}
	actionError := action(root, cache.DatabasePath(cacheDirectory, root), tokenCache)
	closeError := tokenCache.Close(ctx)
	return errors.Join(actionError, closeError)
}

func (app *application) writeCacheStats(root string, databasePath string, entries []cache.Entry) {
	writer := app.stdout()
	databaseSize := int64(0)
	if info, statError := os.Stat(databasePath); statError == nil {
		databaseSize = info.Size()
	}
	fmt.Fprintf(writer, cacheWorkspaceFormat, root)
	fmt.Fprintf(writer, cacheDatabaseFormat, databasePath, utils.FormatFileSize(databaseSize))
	fmt.Fprintf(writer, cacheEntriesFormat, len(entries))

	perKind := make(map[string]int)
	var oldest, newest time.Time
	for _, entry := range entries {
		perKind[entry.Kind]++
		if oldest.IsZero() || entry.LastSeenAt.Before(oldest) {
			oldest = entry.LastSeenAt
		}
		if entry.LastSeenAt.After(newest) {
			newest = entry.LastSeenAt
		}
	}
	kinds := make([]string, 0, len(perKind))
	for kind := range perKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(writer, cacheKindFormat, kind, perKind[kind])
	}
	fmt.Fprintf(writer, cacheLastSeenFormat, utils.FormatTimestampRange(oldest, newest))
}

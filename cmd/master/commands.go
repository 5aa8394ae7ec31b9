package master

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dHA/cmd/util"
	ha "github.com/ValentinKolb/dHA/lib/master"
	"github.com/spf13/cobra"
)

var (
	allocateIdsCmd = &cobra.Command{
		Use:   "allocate-ids [idType]",
		Short: "Allocates a batch of ids",
		Long:  fmt.Sprintf("Allocates a batch of ids for an id type. Valid id types are: %s", strings.Join(idTypeNames(), ", ")),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idType, err := ha.ParseIdType(args[0])
			if err != nil {
				return err
			}
			alloc, err := masterClient.AllocateIds(cmd.Context(), idType)
			if err != nil {
				return err
			}
			fmt.Printf("type=%s, start=%d, length=%d, highest=%d, defrag=%v (count=%d)\n",
				idType, alloc.Range.RangeStart, alloc.Range.RangeLength, alloc.HighestIDInUse, alloc.Range.DefragIDs, alloc.DefragCount)
			return nil
		},
	}
	relTypeCmd = &cobra.Command{
		Use:   "reltype [name]",
		Short: "Creates (or looks up) a relationship type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := masterClient.BeginSession(util.GetSlaveContext())
			defer s.Close()

			resp, err := s.CreateRelationshipType(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name=%s, id=%d\n", args[0], resp.Value)
			return printUpdates(resp.Streams)
		},
	}
	lockCmd = &cobra.Command{
		Use:   "lock [node|relationship] [id...]",
		Short: "Acquires locks and finishes the session",
		Long:  "Acquires write (or with --read read) locks on nodes or relationships. The locks are released when the session is finished at the end of the command.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args)-1)
			for _, arg := range args[1:] {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("id must be a number: %w", err)
				}
				ids = append(ids, id)
			}
			read, _ := cmd.Flags().GetBool("read")

			s := masterClient.BeginSession(util.GetSlaveContext())
			defer s.Close()

			var resp ha.Response[ha.LockResult]
			var err error
			switch {
			case args[0] == "node" && read:
				resp, err = s.AcquireNodeReadLock(cmd.Context(), ids...)
			case args[0] == "node":
				resp, err = s.AcquireNodeWriteLock(cmd.Context(), ids...)
			case args[0] == "relationship" && read:
				resp, err = s.AcquireRelationshipReadLock(cmd.Context(), ids...)
			case args[0] == "relationship":
				resp, err = s.AcquireRelationshipWriteLock(cmd.Context(), ids...)
			default:
				return fmt.Errorf("invalid entity %s (expected node or relationship)", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Printf("entity=%s, ids=%v, status=%s\n", args[0], ids, resp.Value.Status)
			if resp.Value.Status == ha.LockStatusDeadLocked {
				fmt.Printf("deadlock: %s\n", resp.Value.DeadlockMessage)
			}
			return printUpdates(resp.Streams)
		},
	}
	commitCmd = &cobra.Command{
		Use:   "commit [resource] [file]",
		Short: "Commits a transaction read from a file (- for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := os.Stdin
			if args[1] != "-" {
				var err error
				if f, err = os.Open(args[1]); err != nil {
					return err
				}
				defer f.Close()
			}
			chunkSize, _ := cmd.Flags().GetInt("chunk-size")

			s := masterClient.BeginSession(util.GetSlaveContext())
			defer s.Close()

			resp, err := s.Commit(cmd.Context(), args[0], ha.NewReaderStream(f, chunkSize))
			if err != nil {
				return err
			}
			fmt.Printf("resource=%s, tx=%d\n", args[0], resp.Value)
			return printUpdates(resp.Streams)
		},
	}
	pullCmd = &cobra.Command{
		Use:   "pull",
		Short: "Pulls the transactions that were not applied yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applied, _ := cmd.Flags().GetString("applied")

			sc := util.GetSlaveContext()
			if applied != "" {
				for _, entry := range strings.Split(applied, ",") {
					parts := strings.Split(entry, "=")
					if len(parts) != 2 {
						return fmt.Errorf("invalid applied transaction %s (expected RESOURCE=TX)", entry)
					}
					txID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid tx id %s: %w", parts[1], err)
					}
					sc.LastAppliedTransactions = append(sc.LastAppliedTransactions, ha.ResourceVersion{
						Resource: strings.TrimSpace(parts[0]),
						TxID:     txID,
					})
				}
			}

			s := masterClient.BeginSession(sc)
			defer s.Close()

			resp, err := s.PullUpdates(cmd.Context())
			if err != nil {
				return err
			}
			return printUpdates(resp.Streams)
		},
	}
	masterIdCmd = &cobra.Command{
		Use:   "master-id [txID]",
		Short: "Prints the id of the master that committed a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("txID must be a number: %w", err)
			}
			id, err := masterClient.GetMasterIdForCommittedTx(cmd.Context(), txID)
			if err != nil {
				return err
			}
			fmt.Printf("tx=%d, master=%d\n", txID, id)
			return nil
		},
	}
)

func init() {
	lockCmd.Flags().Bool("read", false, util.WrapString("Acquire read instead of write locks"))
	commitCmd.Flags().Int("chunk-size", 4096, util.WrapString("Size of the chunks the transaction is streamed in (in bytes)"))
	pullCmd.Flags().String("applied", "", util.WrapString("Comma-separated list of the last applied transaction per resource (e.g. neostore.nodestore.db=12)"))
}

// printUpdates prints the transactions piggy-backed on a response
func printUpdates(streams ha.TransactionStreams) error {
	txs, err := ha.CollectTransactions(streams)
	if err != nil {
		return fmt.Errorf("failed to read updates: %w", err)
	}
	fmt.Printf("updates=%d\n", len(txs))
	for _, tx := range txs {
		fmt.Printf("  resource=%s, tx=%d, size=%d bytes\n", tx.Resource, tx.TxID, len(tx.Data))
	}
	return nil
}

func idTypeNames() []string {
	names := make([]string, 0, ha.NumIdTypes)
	for t := ha.IdType(0); t.Valid(); t++ {
		names = append(names, t.String())
	}
	return names
}

package call

import (
	"context"
	"fmt"
	"os"

	"github.com/ValentinKolb/sedarpc/rpc/client"
	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcClient.Ping(context.Background()); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
	echoCmd = &cobra.Command{
		Use:   "echo [value]",
		Short: "Sends a value (plus optional attachment and file) and prints what comes back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attachment, err := readAttachment()
			if err != nil {
				return err
			}

			req := common.NewEchoRequest([]byte(args[0]))
			var resp *client.Response
			if path := viper.GetString("file"); path != "" {
				if len(attachment) > 0 {
					return fmt.Errorf("--file cannot be combined with an attachment")
				}
				resp, err = rpcClient.SendFile(context.Background(), req, path)
			} else {
				resp, err = rpcClient.Call(context.Background(), req, attachment)
			}
			if err != nil {
				return err
			}

			fmt.Printf("value:      %s\n", resp.Message.Value)
			fmt.Printf("attachment: %d bytes\n", len(resp.Attachment))
			if len(resp.Message.Meta) > 0 {
				fmt.Printf("file:       %s bytes\n", resp.Message.Meta)
			}
			return nil
		},
	}
	customCmd = &cobra.Command{
		Use:   "custom [method] [value]",
		Short: "Calls a custom method registered on the server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte
			if len(args) == 2 {
				value = []byte(args[1])
			}
			out, err := rpcClient.Custom(context.Background(), args[0], value)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)

func init() {
	key := "attachment"
	echoCmd.Flags().String(key, "", "Attachment sent with the request")
	key = "attachment-file"
	echoCmd.Flags().String(key, "", "Read the attachment from a file")
	key = "file"
	echoCmd.Flags().String(key, "", "Stream a file as the file payload of the request")
}

func readAttachment() ([]byte, error) {
	if path := viper.GetString("attachment-file"); path != "" {
		return os.ReadFile(path)
	}
	return []byte(viper.GetString("attachment")), nil
}

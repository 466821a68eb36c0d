// icdump - IC 重写引擎调试工具
//
// 用法:
//   icdump run [options] scenario.toml     # 驱动重写引擎执行一份场景，打印结果
//   icdump trace trace.json                # 打印一份已保存的 trace 快照
//
// 这是 teacher 的 solaprof 命令行结构（flag.Bool/Parse 选项加子命令分发）
// 搬到这个领域：不再分析已运行脚本的 CPU/内存采样，而是离线驱动一次
// "收集 -> 提交"的重写过程并把结果倾倒出来，供人工检查生成的字节和
// decref-info 表。
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/novalang/icrewriter/icslot"
	"github.com/novalang/icrewriter/rewriter"
)

const (
	Version = "1.0.0"
	Name    = "icdump"
)

var (
	helpFlag    = flag.Bool("help", false, "显示帮助信息")
	versionFlag = flag.Bool("version", false, "显示版本信息")
	verboseFlag = flag.Bool("verbose", false, "详细输出")
	outputFlag  = flag.String("o", "", "输出文件 (trace JSON)")

	slotSizeFlag    = flag.Int("slot-size", 256, "单个槛位的代码字节数")
	scratchLenFlag  = flag.Int("scratch-bytes", 256, "脚手架区字节数")
	numArgsOverride = flag.Int("num-args", -1, "覆盖场景文件里的 num_args")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *helpFlag {
		usage()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Printf("%s version %s\n", Name, Version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	var err error
	switch cmd {
	case "run":
		err = runScenario(cmdArgs)
	case "trace":
		err = dumpTrace(cmdArgs)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s - IC 重写引擎调试工具 v%s

用法:
  %s <命令> [选项] [参数]

命令:
  run     加载一份场景 TOML，驱动重写引擎，打印生成的字节/decref-info
  trace   打印一份已保存的 trace JSON
  help    显示帮助信息

选项:
`, Name, Version, Name)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
示例:
  %s run scenario.toml
  %s run --verbose -o trace.json scenario.toml
`, Name, Name)
}

func runScenario(args []string) error {
	// 子命令之后的选项（icdump run --verbose -o trace.json x.toml）
	if err := flag.CommandLine.Parse(args); err != nil {
		return err
	}
	args = flag.Args()
	if len(args) == 0 {
		return fmt.Errorf("请指定场景文件")
	}
	sc, err := loadScenario(args[0])
	if err != nil {
		return err
	}

	numArgs := sc.NumArgs
	if *numArgsOverride >= 0 {
		numArgs = *numArgsOverride
	}

	logger := zap.NewNop()
	if *verboseFlag {
		var zerr error
		logger, zerr = zap.NewDevelopment()
		if zerr != nil {
			return zerr
		}
	}

	arena, err := icslot.NewArena(1, *slotSizeFlag, *scratchLenFlag)
	if err != nil {
		return fmt.Errorf("icdump: failed to create arena: %w", err)
	}
	arena.SetLogger(logger)
	defer arena.Close()

	slot := arena.PrepareEntry()
	if slot == nil {
		return fmt.Errorf("icdump: arena has no free slots")
	}

	policy := sc.Policy.ToPolicy(nil)

	e := rewriter.NewRewriter(slot, policy, rewriter.DefaultConfig(), logger, numArgs)

	resolved, err := buildScenario(e, sc)
	if err != nil {
		return err
	}

	var commitErr error
	if resolved.returnSet != nil {
		commitErr = e.CommitReturning(resolved.returnSet)
	} else {
		commitErr = e.Commit()
	}
	tr := e.Trace(commitErr)

	if *verboseFlag && sc.Return != "" {
		fmt.Printf("返回变量: %s\n", sc.Return)
	}

	if tr.Aborted {
		fmt.Printf("重写中止: %s (%s)\n", tr.FailMsg, tr.FailKind)
	} else {
		fmt.Printf("重写提交成功，代码长度 %d 字节\n", tr.CodeLen)
		fmt.Printf("字节: %s\n", tr.CodeHex)
		fmt.Printf("decref-info 记录数: %d\n", len(tr.DecrefInfos))
	}

	if *outputFlag != "" {
		data, encErr := tr.Encode()
		if encErr != nil {
			return encErr
		}
		if werr := os.WriteFile(*outputFlag, data, 0644); werr != nil {
			return werr
		}
		fmt.Printf("trace 已保存到: %s\n", *outputFlag)
	}

	return nil
}

func dumpTrace(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("请指定 trace JSON 文件")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	pretty, err := prettyPrintTrace(data)
	if err != nil {
		return err
	}
	fmt.Print(pretty)
	return nil
}

// Package agentloop drives a persistent shell session with a language model.
//
// A request appends a human message to a working copy of its conversation
// and runs the Loop: the Decider picks zero or more commands, the loop sends
// each one in order to the shell and appends its output, and the cycle
// repeats until a Decision requests no commands or the step budget runs out.
// The working copy is committed to the conversation's Store only when the
// run finishes.
//
// # Architecture
//
//   - Message: tagged union of human, decision and action result entries.
//   - Store / Conversations: per-conversation message logs with a run lock
//     and a generation counter so Clear never waits on a run.
//   - Decider: the engine boundary. LLMDecider advertises a single
//     send_command tool through a unifiedllm.Client.
//   - Loop: the budgeted decide and dispatch cycle.
//   - Agent: Chat for a synchronous reply, Stream for an iter.Seq of events.
//
// # Quick Start
//
//	client := unifiedllm.NewClientFromSettings(ctx, settings, logger)
//	decider := agentloop.NewLLMDecider(client)
//	ctrl := shell.NewController(shell.DefaultConfig(), logger)
//	if err := ctrl.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Close()
//
//	agent := agentloop.NewAgent(agentloop.NewLoop(decider, ctrl, agentloop.DefaultLoopConfig(), logger), logger)
//	for ev := range agent.Stream(ctx, "", "list the files here") {
//	    fmt.Println(ev.Type, ev.Content)
//	}
package agentloop

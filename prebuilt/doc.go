// Package prebuilt provides a ready-to-use chat session on top of the
// agentmemory components.
//
// A ChatSession runs each turn as a fixed sequence of stages:
//
//  1. load the conversation from the ConversationMemory
//  2. repair unanswered tool calls with the ToolChainValidator
//  3. call the langchaingo model
//  4. persist the user (or tool) message and the reply
//  5. compact the log when it has grown past the trigger size
//  6. optionally extract a user preference from the text
//
// Stages 5 and 6 never fail a turn; their errors are logged.
//
//	session, err := prebuilt.NewChatSession(model, mem,
//		prebuilt.WithSystemPrompt("You are a helpful assistant."),
//		prebuilt.WithUserID("alice"),
//		prebuilt.WithPreferences(prefs),
//	)
//	reply, err := session.Chat(ctx, "What's the weather in Oslo?")
//	if reply.HasToolCalls() {
//		reply, err = session.SubmitToolResults(ctx, memory.ToolResult{
//			CallID:  reply.ToolCalls[0].ID,
//			Name:    reply.ToolCalls[0].Name,
//			Content: "-3C, snow",
//		})
//	}
package prebuilt

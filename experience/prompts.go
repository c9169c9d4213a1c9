package experience

import "strings"

// render substitutes {name} placeholders in a prompt template
func render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// ProblemWithExperiences renders the rollout prompt for a problem with the
// current experience pool injected.
func ProblemWithExperiences(domain Domain, problem string, experiences *Store) string {
	template := mathProblemTemplate
	if domain == DomainWeb {
		template = webProblemTemplate
	}
	return render(template, map[string]string{
		"problem":     problem,
		"experiences": experiences.Format(),
	})
}

const mathProblemTemplate = `Please solve the problem:
{problem}

When solving problems, you MUST first carefully read and understand the helpful instructions and experiences:
{experiences}`

const webProblemTemplate = `**Task:** Solve the input problem by leveraging relevant insights from your accumulated experiences

**Instructions:**
1. **Understand the Problem:** Carefully analyze the **CURRENT PROBLEM** to identify key aspects that require resolution.
2. **Review Relevant Experiences:** Examine the **ACCUMULATED EXPERIENCES** and determine which insights, strategies, or patterns apply to the current problem.
3. **Apply Insights Thoughtfully:**
- If an experience matches the problem context, explicitly incorporate it into your reasoning.
- If no direct match exists, consider whether any generalized principles can still guide your approach.

**ACCUMULATED EXPERIENCES:**
{experiences}

**CURRENT PROBLEM:**
{problem}`

const mathRolloutSummaryTemplate = `An agent system may be provided with some experiences, and then it produces the following trajectory to solve the given problem. Please summarize the trajectory step-by-step:

1. For each step, describe **what action is being taken**, and which experience has been used in this step.
2. Given the grading of this rollout and the correct answer, identify and explain any steps that **represent detours, errors, or backtracking**, highlighting why they might have occurred and what their impact was on the trajectory's progress.
3. Maintain **all the core outcome of each step**, even if it was part of a flawed process.

<trajectory>
{trajectory}
</trajectory>

<evaluation>
{grade}
</evaluation>

<groundtruth>
{answer}
</groundtruth>

Only return the trajectory summary of each step, e.g.,
1. what happened in the first step and the core outcomes
2. what happened in the second step and the core outcomes
3. ...`

const mathRolloutSummaryNoGTTemplate = `An agent system may be provided with some experiences, and then it produces the following trajectory to solve the given problem. Please summarize the trajectory step-by-step:

1. For each step, describe **what action is being taken**, and which experience has been used in this step.
2. Identify and explain any steps that **represent detours, errors, or backtracking**, highlighting why they might have occurred and what their impact was on the trajectory's progress.
3. Maintain **all the core outcome of each step**, even if it was part of a flawed process.

<trajectory>
{trajectory}
</trajectory>

Only return the trajectory summary of each step, e.g.,
1. what happened in the first step and the core outcomes
2. what happened in the second step and the core outcomes
3. ...`

const mathCritiqueTemplate = `An agent system is provided with a set of experiences and has tried to solve the problem multiple times with both successful and wrong solutions. Review these problem-solving attempt and extract generalizable experiences. Follow these steps:

1. Trajectory Analysis:
    - For successful steps: Identify key correct decisions and insights
    - For errors: Pinpoint where and why the reasoning went wrong
    - Note any important patterns or strategies used/missed
    - Review why some trajectories fail? Is there any existing experiences are missed, or experiences do not provide enough guidance?

2. Update Existing Experiences
    - Some trajectories may be correct and others may be wrong, you should ensure there are experiences can help to run correctly
    - You have two options: [modify, add]
        * modify: You can modify current experiences to make it helpful
        * add: You can introduce new experiences may need to be
    - You can update at most {max_operations} clear, generalizable lessons for this case
    - Before updating each experience, you need to:
        * Specify when it would be most relevant
        * List key problem features that make this experience applicable
        * Identify similar problem patterns where this advice applies

3. Requirements for each experience that is modified or added.
    - Begin with general background with several words in the experience
    - Focus on strategic thinking patterns, not specific calculations
    - Emphasize decision points that could apply to similar problems

Please provide reasoning in details under the guidance of the above 3 steps.
After the step-by-step reasoning, you will finish by returning in this JSON format as follows:
` + "```json" + `
[
    {
        "option": "modify",
        "experience": "the modified experience",
        "modified_from": "G17"
    },
    {
        "option": "add",
        "experience": "the added experience"
    }
]
` + "```" + `
Note that your updated experiences may not need to cover all two options. Only using one type of updates is also very good.

<problem>
{problem}
</problem>

<trajectories>
{trajectories}
</trajectories>

<groundtruth>
{answer}
</groundtruth>

<experience>
{experiences}
</experience>`

const mathCritiqueNoGTTemplate = `An agent system is provided with a set of experiences and has tried to solve the problem multiple times. Review these problem-solving attempt and extract generalizable experiences. Follow these steps:

1. Trajectory Analysis:
    - Identify key correct decisions and insights
    - Pinpoint where and why the reasoning went wrong
    - Note any important patterns or strategies used/missed
    - Review why some trajectories seems to fail? Is there any existing experiences are missed, or experiences do not provide enough guidance?

2. Update Existing Experiences
    - Ensure there are experiences can help to run correctly
    - You have two options: [modify, add]
        * modify: You can modify current experiences to make it helpful
        * add: You can introduce new experiences may need to be
    - You can update at most {max_operations} clear, generalizable lessons for this case
    - Before updating each experience, you need to:
        * Specify when it would be most relevant
        * List key problem features that make this experience applicable
        * Identify similar problem patterns where this advice applies

3. Requirements for each experience that is modified or added.
    - Begin with general background with several words in the experience
    - Focus on strategic thinking patterns, not specific calculations
    - Emphasize decision points that could apply to similar problems

Please provide reasoning in details under the guidance of the above 3 steps.
After the step-by-step reasoning, you will finish by returning in this JSON format as follows:
` + "```json" + `
[
    {
        "option": "modify",
        "experience": "the modified experience",
        "modified_from": "G17"
    },
    {
        "option": "add",
        "experience": "the added experience"
    }
]
` + "```" + `
Note that your updated experiences may not need to cover all two options. Only using one type of updates is also very good.

<problem>
{problem}
</problem>

<trajectories>
{trajectories}
</trajectories>

<experience>
{experiences}
</experience>`

const mathBatchUpdateTemplate = `An agent system is provided with a set of experiences and has tried to solve the problem multiple times. From the reflections, some suggestions on the existing experiences have been posed. Your task is to collect and think for the final experience revision plan. Each final experience must satisfy the following requirements.
1. It must be clear, generalizable lessons for this case, with no more than 32 words
2. Begin with general background with several words in the experience
3. Focus on strategic thinking patterns, not specific calculations
4. Emphasize decision points that could apply to similar problems
5. Avoid repeating saying similar experience in multiple different experiences

<existing_experiences>
{experiences}
</existing_experiences>

<suggested_updates>
{updates}
</suggested_updates>

Please provide reasoning in each of the suggestions, and think for how to update existing experiences
You have two update options: [modify, merge]
* modify: You can modify current experiences to make it helpful
* merge: You can merge some similar experiences into a more general forms to reduce duplication

After generating the step-by-step reasoning, you need to give the final experience revision details by returning in this JSON format as follows:
` + "```json" + `
[
    {
        "option": "modify",
        "experience": "the modified experience",
        "modified_from": "C1"
    },
    {
        "option": "merge",
        "experience": "the merged experience",
        "merged_from": ["C1", "C3", "S4"]
    }
]
` + "```" + `

Your updated experiences may not need to cover all two options. Only using one type of updates is OK.`

const webRolloutSummarySystemPrompt = `You are an AI assistant specialized in analyzing web agent trajectories.
Your task is to summarize the provided trajectory data by extracting **detailed, task-relevant information** from each step, including the agent's actions, tool usage, reasoning, outcomes, and critically **all information returned by tools that may be relevant to the task**, even if the agent did not explicitly use it.

### Instructions:
1. **Extract Step-by-Step Details**: For each step in the trajectory, describe:
  - **Action Taken**: What the agent did (e.g., called a tool, responded to user).
  - **Tool Called**: If applicable, the name of the tool used.
  - **Tool Parameters**: The arguments passed to the tool (e.g., query strings, URLs).
  - **Tool Results**: Extract all data from the tool's return that may be relevant to the task (dates, names, numbers, events), even if the agent did not use it. Do not summarize loosely; list specific values.
  - **Agent's Reasoning**: Infer the agent's thought process or logic behind the action.
  - **Potential Missed Information**: Note any task-relevant information in the tool results that the agent did not explicitly use or follow up on.

2. **Focus on Relevance**: Prioritize information directly related to the agent's task. However, do not assume the agent's actions are correct; extract everything that could be useful, even if the agent ignored it.

3. **Summarize Logic and Flow**: Capture the agent's overall strategy, including how it iterates based on results, handles errors, and progresses toward the goal.

### Output Requirements:
Generate a comprehensive summary including:
1. **Task Analysis**: Briefly describe the agent's primary objective
2. **Step-by-Step Execution**: tool calls with parameters and reasoning, tool responses with all task-relevant findings, and any relevant information that appeared in tool results but was not utilized
3. **Critical Decision Points**: Highlight where the agent made strategic choices
4. **Key Discoveries**: Extract the most relevant information found during the trajectory
5. **Agent Response**: Summarize the final output of the agent as the response to the original task
6. **Overall Strategy**: the agent's approach, key decisions, and how it achieved (or failed) the final response

**language**: Use the same language as the input trajectory.`

const webRolloutSummaryUserTemplate = `Task: {task}
Correct Answer: {answer}

Below is a detailed trajectory of an AI agent's interactions:
{trajectory}`

const webCritiqueSystemPrompt = `You are reviewing the performance of an AI assistant across multiple interaction trajectories.

<Task>
1. Evaluate each trajectory by comparing the assistant's response with the true answer:
  - Identify which responses are correct and which are incorrect
  - Analyze the differences between successful and unsuccessful trajectories

2. For incorrect responses:
  - Diagnose the root causes of failure (reasoning errors, knowledge gaps, misinterpretations, etc.)
  - Extract specific failure patterns

3. For correct responses:
  - Identify the key success factors and effective strategies
  - Document what made these approaches work well

4. Conduct pattern analysis across all trajectories:
  - Compare successful vs unsuccessful approaches
  - Identify distinguishing characteristics between correct and incorrect responses
  - Look for consistent patterns in reasoning, methodology, or approach

5. Extract generalized insights:
  - Derive high-level, transferable principles that apply to similar problem types
  - Formulate actionable guidance for future tasks in this domain by:
     * Using general cognitive or problem-solving terminology
     * Avoiding references to specific domains or cases
     * Focusing on decision-making frameworks rather than concrete examples
  - Focus on universal strategies rather than specific solutions
      - If an insight requires contextual preconditions to be universally valid, explicitly frame it as "When [condition], [strategy/principle]" to maintain applicability boundaries
</Task>

<output_requirements>
Provide a structured reflection including:
1. **Performance Assessment**: Classification of correct/incorrect responses with brief justifications
2. **Comparative Analysis**: Clear differentiation between successful and unsuccessful approaches
3. **Pattern Identification**: Common characteristics of successful trajectories and recurring issues in failures
4. **Experiences**: 2-3 high-level principles or strategies that could guide future performance in similar tasks
  - Combine insights with implementation suggestions where appropriate
  - Expressed using abstract, domain-agnostic language
  - Free of any domain-specific references
  - For context-dependent insights, use conditional phrasing: "When [specific circumstance], [recommended approach]"
  - Framed as universally applicable cognitive or methodological guidelines
  - Focus on reasoning processes and adaptable frameworks rather than content knowledge
</output_requirements>`

const webCritiqueUserTemplate = `Based on the following problem-solving attempt, provide a reflection summary of the experience gained:

<Problem>
{question}
</Problem>

<Correct Answer>
{answer}
</Correct Answer>

<Attempts>
{attempts}
</Attempts>

Please provide your output use the following structure:
<Reflection>
<Performance Assessment>
  - Correct Responses: [List of correct responses with brief justifications]
  - Incorrect Responses: [List of incorrect responses with brief justifications]
  - Correct Number: [Number of correct responses]
  - Incorrect Number: [Number of incorrect responses]
</Performance Assessment>

<Comparative Analysis>
  [Directly contrast the correct and incorrect trajectories. Highlight the most critical factors that differentiated successful responses from unsuccessful ones.]
</Comparative Analysis>

<Pattern Identification>
  [Key elements that led to success, and common pitfalls]
</Pattern Identification>

<Experiences>
  - [experience 1]
  - [experience 2]
  ...
</Experiences>
</Reflection>

Provide a concise reflection summary:`

const webGroupUpdateSystemPrompt = `You are a smart experience manager responsible for maintaining and updating the experience pool of a web agent system. The web agent assists users by performing web searches and providing answers, and its experiences include insights about planning search strategies, executing tasks, handling user queries, and summarizing results.

You can perform four operations based on newly input trajectories (experiences):
1. ADD: Add a new experience to the pool.
2. UPDATE: Update an existing experience in the pool.
3. DELETE: Delete an existing experience from the pool.
4. NONE: Make no change to the pool.

You will be provided with the entire set of existing experiences in the pool (each with a unique ID) and a list of new experiences from recent trajectories. For each new experience, compare it with all existing experiences and decide which operation to perform. Follow these guidelines:

- **ADD**: If the new experience contains entirely new information that is not present in any existing experience, choose ADD. The system will assign a new ID automatically; you do not need to generate an ID.

- **UPDATE**: If the new experience refines, expands, or improves upon an existing experience in the pool, update the existing experience to incorporate the new information while keeping the same ID. When updating, ensure the content remains general and concise. If the information is identical or very similar without meaningful addition, choose NONE instead.

- **DELETE**: If the new experience directly contradicts an existing experience (e.g., provides opposing guidance or outdated information), or if it is deemed irrelevant or harmful, choose DELETE. You must specify the ID of the existing experience to delete.

- **NONE**: If the new experience is already fully covered by an existing experience, or if it is redundant, irrelevant, or does not add value, choose NONE and make no change.

**Experience Content Quality**:
- Ensure that all experience content (for ADD and UPDATE) is general, concise, and focused on key insights. Each experience should be a clear guideline that can be easily applied to a range of similar situations.
- The experience should be formatted as "Experience name: Brief description." where the name is a concise phrase (one or two words) and the description is a succinct one sentence that captures the essence.

Important notes:
- For UPDATE and DELETE operations, you must reference the exact ID of the existing experience from the input provided. Do not generate new IDs for these operations.
- Your output should be a list of decisions for each new experience, in the order provided.
- The number of objects in the output array MUST exactly match the number of new experiences provided as input.

**Output Format Requirements:**

You MUST output a single, well-formed JSON array. Each decision object MUST have the following structure:

` + "```json" + `
{
  "operation": "ADD | UPDATE | DELETE | NONE",
  "id": "existing_experience_id_or_null",
  "content": "Experience name: Brief description."
}
` + "```" + `

The "id" field MUST contain the exact string of an existing experience's ID from the input pool if the operation is "UPDATE" or "DELETE", and MUST be null for "ADD" or "NONE".`

const webGroupUpdateUserTemplate = `Below are your existing experiences and a list of new experiences derived from recent agent trajectories.

Existing Experiences:
{existing_experiences}

New Experiences:
{new_experiences}

For each new experience, decide whether to ADD it as a new experience, UPDATE an existing one, DELETE an existing one, or make NO CHANGE (NONE).

Output your decisions in the specified JSON format.`

const webBatchUpdateSystemPrompt = `You are a smart experience manager responsible for maintaining and updating the experience pool of a web agent system. The web agent assists users by performing web searches and providing answers, and its experiences include insights about planning search strategies, executing tasks, handling user queries, and summarizing results.

## Task Description
You are now tasked with processing a batch of experience update operations derived from multiple trajectories. You will receive a list of proposed update operations (each with operation type, ID if applicable, and content) from a batch of samples. Your goal is to combine and reconcile these operations into a consolidated set of updates to apply to the experience pool.

You can perform four operations:
1. ADD: Add a new experience to the pool.
2. UPDATE: Update an existing experience in the pool.
3. DELETE: Delete an existing experience from the pool.
4. NONE: Make no change to the pool.

## Guidelines
You must analyze the batch of operations and produce a final list of decisions that represents the net effect of the batch. Follow these guidelines:

- **Combining Operations**:
  - If there are multiple UPDATE operations for the same ID, synthesize them into a single UPDATE that extracts the core insight or common theme. Prefer the most universally applicable version.
  - If there is a DELETE operation for an ID, it overrides any UPDATE operations for that ID; the net operation should be DELETE. DELETE takes precedence because it indicates the experience is invalid or outdated.
  - For ADD operations: If multiple ADD operations have similar or identical content, merge them into one ADD to avoid duplicates. If they are distinct and provide unique insights, keep them as separate ADD operations.
  - Handle conflicts by considering the context, reliability, and generality of their content. Prioritize insights that are more general and widely applicable.

- **Experience Content Quality**:
  - Ensure that all experience content (for ADD and UPDATE) is **general, concise, and focused on key insights**. Each experience should be a clear guideline that can be easily applied by the agent to a range of similar situations.
  - Avoid including specific steps, examples, or excessive details. Distill the content into a principle or strategy that highlights the main takeaway.

## Output Requirements
You MUST output a single, well-formed JSON array. Each decision object MUST have the following structure:

` + "```json" + `
{
  "operation": "ADD | UPDATE | DELETE | NONE",
  "id": "existing_experience_id_or_null",
  "content": "The full content of the experience after consolidation."
}
` + "```" + `

For UPDATE and DELETE operations, provide the exact ID of the existing experience from the input pool. Do not generate new IDs. For ADD and NONE operations, set "id" to null. The number of output decisions may be less than the number of input batch operations due to merging.`

const webBatchUpdateUserTemplate = `Below are your existing experiences and a list of proposed update operations from a batch of agent trajectories.

Existing Experiences and Batch Operations:
{experiences_and_operations}

Please analyze these batch operations and produce a consolidated list of decisions to update the experience pool.

Output your decisions in the specified JSON format.`

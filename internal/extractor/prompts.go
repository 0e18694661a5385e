package extractor

// Prompt slots: survey questions, transcript chunk.
const initialPrompt = `Based on the following interview transcript between one social worker and one youth participant interested in participating in a leaving care program, please fill out this survey. For each question, provide:
1. Answer: base the answer on the guidance provided in the parentheses. For text questions, try to cover all the relevant information for this question.
2. Certainty (low, medium, high)
3. Rationale: every single/multiple choice question must have a concise text reasoning that covers all the relevant information related to the question. If not choice-based, leave blank.

Notes:
- Output only for the questions that are clearly addressed in the transcript.
- Do not make up information, follow the transcript.
- Format your response as a JSON array, nothing else.

SURVEY QUESTIONS:
%s

TRANSCRIPT:
%s

output example:
[
  {
    "question_id": "5",
    "answer": ["yes"],
    "certainty": "high",
    "rationale": "support in finding an apartment is urgent. Prefers a first-hand contract"
  },
  {
    "question_id": "10",
    "answer": "lonely and depressed, having trouble sleeping and finding time for friends",
    "certainty": "medium",
    "rationale": ""
  }
]
`

// Prompt slots: survey questions, previous answers, transcript chunk.
const followUpPrompt = `The following transcript is an interview between a social worker and a youth participant interested in participating in a leaving care program. You are provided with the survey (see SURVEY QUESTIONS) which has been partially answered before (see PREVIOUS ANSWERS) based on earlier parts of the interview. You will update the answers to the survey based on the new transcript.

Here is the structure to answer a question:
1. Answer: base the answer on the guidance provided in the parentheses. For text questions, try to cover all the relevant information for this question.
2. Certainty (low, medium, high)
3. Rationale: every single/multiple choice question must have a concise text reasoning that covers all the relevant information related to the question. If not choice-based, leave blank.

First, recheck the previous answers against the new transcript to detect any potential conflicts or new information.
- If the new transcript contains conflicting information, update the previous answer according to the current transcript.
- If the new transcript contains additional/new information, update the previous answer by adding the new information while keeping the previous answer.
- If the new answer is similar to the previous answer, no need to update.

Second, find answers in the new transcript for questions not answered previously:
- Only fill out the answer if the transcript has clearly addressed the question.

important:
- Only answer the questions that are clearly addressed in the transcript.
- Output ONLY the updated answers and newly answered questions.
- Do not make up information, follow the transcript.
- Format your response as a JSON array, nothing else.

SURVEY QUESTIONS:
%s

PREVIOUS ANSWERS:
%s

NEW TRANSCRIPT:
%s

output example:
[
  {
    "question_id": "5",
    "answer": ["yes"],
    "certainty": "high",
    "rationale": "support in finding an apartment is urgent. Prefers a first-hand contract"
  },
  {
    "question_id": "10",
    "answer": "lonely and depressed, having trouble sleeping and finding time for friends",
    "certainty": "medium",
    "rationale": ""
  }
]
`
